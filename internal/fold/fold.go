// Package fold normalizes free text typed by users so keyword matching is
// insensitive to case, accents and surrounding punctuation.
package fold

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// String lowercases s, strips combining marks ("mañana" → "manana",
// "Sí" → "si") and trims surrounding whitespace.
func String(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.TrimSpace(strings.ToLower(out))
}

// Words folds s and splits it into words, dropping punctuation.
func Words(s string) []string {
	return strings.FieldsFunc(String(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// ContainsPhrase reports whether the folded words of s contain the folded
// words of phrase as a contiguous run. Matching is by whole word, so "no"
// does not match "nombre".
func ContainsPhrase(s, phrase string) bool {
	hay := Words(s)
	needle := Words(phrase)
	if len(needle) == 0 || len(needle) > len(hay) {
		return false
	}
	for i := 0; i+len(needle) <= len(hay); i++ {
		match := true
		for j := range needle {
			if hay[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// Equal reports whether a and b are the same after folding.
func Equal(a, b string) bool {
	return String(a) == String(b)
}
