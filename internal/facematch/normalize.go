package facematch

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RemoveDiacritics removes diacritical marks from a string (e.g., "Jiří" -> "Jiri").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// NormalizeOwnerID canonicalizes an owner identifier so that the same person
// keyed from different devices lands on one ledger row
// (lowercase, no diacritics, inner whitespace collapsed to dashes).
func NormalizeOwnerID(id string) string {
	id = RemoveDiacritics(strings.TrimSpace(id))
	id = strings.ToLower(id)
	return strings.Join(strings.Fields(id), "-")
}
