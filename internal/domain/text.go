package domain

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// EqualFoldCity compares city names with locale-independent case folding.
func EqualFoldCity(a, b string) bool {
	c := cases.Fold()
	return c.String(strings.TrimSpace(a)) == c.String(strings.TrimSpace(b))
}

// FoldText lowercases s, strips combining marks and collapses whitespace,
// so "Hôtel  Mëridien" and "hotel meridien" fold to the same key.
// Casers and transformers are stateful, so each call builds its own.
func FoldText(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), cases.Fold(), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = strings.ToLower(s)
	}
	return strings.Join(strings.Fields(out), " ")
}
