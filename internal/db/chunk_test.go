package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunk(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	chunks := Chunk(items, 2)
	assert.Len(t, chunks, 3)
	assert.Equal(t, []int{1, 2}, chunks[0])
	assert.Equal(t, []int{5}, chunks[2])

	assert.Nil(t, Chunk([]int{}, 2))

	// Non-positive size falls back to the default.
	chunks = Chunk(items, 0)
	assert.Len(t, chunks, 1)
}

func TestMultiInsertSQL(t *testing.T) {
	sql := MultiInsertSQL("items", []string{"id", "name"}, 2, "ON CONFLICT (id) DO NOTHING")
	assert.Equal(t,
		"INSERT INTO items (id, name) VALUES ($1, $2), ($3, $4) ON CONFLICT (id) DO NOTHING",
		sql,
	)

	sql = MultiInsertSQL("t", []string{"a"}, 1, "")
	assert.Equal(t, "INSERT INTO t (a) VALUES ($1)", sql)
}
