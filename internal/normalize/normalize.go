// Package normalize canonicalises user text into fact lookup keys.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// maxPasses bounds the fixed-point loop in String. Every input seen so far
// settles after at most two passes.
const maxPasses = 4

// String case-folds and lowercases s, drops every rune that is not a letter,
// a number, whitespace or '?', collapses whitespace runs to a single space
// and trims the result. It is idempotent: String(String(x)) == String(x).
func String(s string) string {
	out := pass(s)
	for i := 1; i < maxPasses; i++ {
		next := pass(out)
		if next == out {
			break
		}
		out = next
	}
	return out
}

// pass runs one round of folding and filtering. Fold alone is not stable
// for scripts such as Cherokee, whose folded form is the uppercase letter,
// so the folded text is lowercased as well. Dropping punctuation can bring
// runes together that compose under NFC (Hangul jamo), which is why String
// repeats pass until nothing changes.
func pass(s string) string {
	folded := norm.NFC.String(strings.Map(unicode.ToLower, cases.Fold().String(s)))

	var b strings.Builder
	b.Grow(len(folded))
	pendingSpace := false
	for _, r := range folded {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = b.Len() > 0
		case unicode.IsLetter(r), unicode.IsNumber(r), r == '?':
			if pendingSpace {
				b.WriteByte(' ')
				pendingSpace = false
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}
