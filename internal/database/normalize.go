package database

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RemoveDiacritics removes diacritical marks from a string (e.g., "José" -> "Jose").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// NormalizeName normalizes a student name for search and announcement
// (lowercase, no diacritics, collapsed whitespace).
func NormalizeName(name string) string {
	name = RemoveDiacritics(name)
	name = strings.ToLower(name)
	return strings.Join(strings.Fields(name), " ")
}
