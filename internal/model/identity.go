package model

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// slugTransformer strips diacritics so "Señalización" and "Senalizacion"
// produce the same key.
var slugTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify lowercases s, strips diacritics, and collapses every
// non-alphanumeric run into a single hyphen.
func Slugify(s string) string {
	flat, _, err := transform.String(slugTransformer, s)
	if err != nil {
		flat = s
	}
	var b strings.Builder
	b.Grow(len(flat))
	prevHyphen := true // trims leading hyphens
	for _, r := range strings.ToLower(flat) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			prevHyphen = false
		default:
			if !prevHyphen {
				b.WriteByte('-')
				prevHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// ItemKey builds the normalized semantic key for an item:
// trade + code + slugified description. Two derivations of the same
// semantic item within a run must collide on this key.
func ItemKey(tradeCode, code, description string) string {
	parts := []string{Slugify(tradeCode)}
	if c := Slugify(code); c != "" {
		parts = append(parts, c)
	}
	parts = append(parts, Slugify(description))
	return strings.Join(parts, ":")
}

// DeterministicID derives a stable uuid from the given parts. Same
// inputs, same id, always: a re-run after a crash regenerates identical
// identities, which is what makes the graph writes idempotent.
func DeterministicID(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	id, err := uuid.FromBytes(sum[:16])
	if err != nil {
		// 16 bytes can't fail FromBytes; guard anyway.
		return fmt.Sprintf("%x", sum[:16])
	}
	return id.String()
}

// DeterministicItemID derives a stable item id from (runID, itemKey).
func DeterministicItemID(runID, itemKey string) string {
	return DeterministicID(runID, itemKey)
}

// DeterministicLinkID derives a stable item-evidence id from
// (itemID, findingID).
func DeterministicLinkID(itemID, findingID string) string {
	return DeterministicID(itemID, findingID)
}
