package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	assert.Equal(t, "exit-sign", Slugify("EXIT SIGN"))
	assert.Equal(t, "restroom-sign-type-a", Slugify("Restroom Sign (Type A)"))
	assert.Equal(t, "senalizacion", Slugify("Señalización"))
	assert.Equal(t, "ada-6x8", Slugify("  ADA 6x8  "))
	assert.Equal(t, "", Slugify("---"))
}

func TestItemKey(t *testing.T) {
	assert.Equal(t, "10-14-00:s1:exit-sign", ItemKey("10 14 00", "S1", "EXIT SIGN"))
	// No code: key collapses to trade + description.
	assert.Equal(t, "10-14-00:exit-sign", ItemKey("10 14 00", "", "Exit Sign"))
	// Same semantic item, different casing/punctuation, same key.
	assert.Equal(t,
		ItemKey("10 14 00", "S1", "EXIT SIGN"),
		ItemKey("10 14 00", "s1", "Exit   Sign!"),
	)
}

func TestDeterministicItemID_Stable(t *testing.T) {
	a := DeterministicItemID("run-1", "10-14-00:s1:exit-sign")
	b := DeterministicItemID("run-1", "10-14-00:s1:exit-sign")
	assert.Equal(t, a, b, "same inputs must always produce the same id")
	assert.Len(t, a, 36)

	c := DeterministicItemID("run-2", "10-14-00:s1:exit-sign")
	assert.NotEqual(t, a, c, "different run must produce a different id")

	d := DeterministicItemID("run-1", "10-14-00:s2:exit-sign")
	assert.NotEqual(t, a, d, "different key must produce a different id")
}

func TestDeterministicLinkID_Stable(t *testing.T) {
	a := DeterministicLinkID("item-1", "finding-1")
	assert.Equal(t, a, DeterministicLinkID("item-1", "finding-1"))
	assert.NotEqual(t, a, DeterministicLinkID("item-1", "finding-2"))
}
