package entity

import (
	"strings"
	"unicode"
)

// leadingFiller is stripped from the front of a reference so "the report"
// and "report" match the same task.
var leadingFiller = []string{"the ", "a ", "an ", "my ", "that ", "this "}

// Normalize lower-cases s, drops punctuation, collapses whitespace and
// trims leading filler words.
func Normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r), r == '-', r == '_', r == '/':
			b.WriteRune(' ')
		}
	}
	out := strings.Join(strings.Fields(b.String()), " ")
	for changed := true; changed; {
		changed = false
		for _, f := range leadingFiller {
			if strings.HasPrefix(out, f) {
				out = strings.TrimPrefix(out, f)
				changed = true
			}
		}
	}
	return out
}
