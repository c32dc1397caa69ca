package db

import (
	"fmt"
	"strings"
)

// DefaultChunkSize bounds rows per INSERT statement. Chunking is a
// scalability concern only; every chunk is individually
// conflict-tolerant, so a partial failure never corrupts earlier chunks.
const DefaultChunkSize = 150

// Chunk splits items into slices of at most size elements.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if len(items) == 0 {
		return nil
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}

// MultiInsertSQL renders a multi-row INSERT with numbered placeholders:
// INSERT INTO tbl (a, b) VALUES ($1, $2), ($3, $4) <suffix>.
// suffix carries the ON CONFLICT clause.
func MultiInsertSQL(table string, columns []string, rowCount int, suffix string) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(columns, ", "))
	b.WriteString(") VALUES ")

	n := 1
	for r := 0; r < rowCount; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range columns {
			if c > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", n)
			n++
		}
		b.WriteByte(')')
	}

	if suffix != "" {
		b.WriteByte(' ')
		b.WriteString(suffix)
	}
	return b.String()
}
