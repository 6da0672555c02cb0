// Package normalize canonicalizes raw concept text so that equivalent
// signals compare equal. Normalize is a deterministic total function: it
// never fails, and an input that strips down to nothing yields the empty
// key, which callers must treat as non-resolvable.
package normalize

import (
	"strings"
	"unicode"
)

// defaultAllowedPunct is the small punctuation set kept inside canonical
// keys. Everything else outside letters, digits and spaces is stripped.
const defaultAllowedPunct = "-'+#./"

// Normalizer canonicalizes concept text.
type Normalizer struct {
	allowedPunct map[rune]bool
}

// New creates a Normalizer. An empty allowedPunct uses the default set.
func New(allowedPunct string) *Normalizer {
	if allowedPunct == "" {
		allowedPunct = defaultAllowedPunct
	}
	set := make(map[rune]bool, len(allowedPunct))
	for _, r := range allowedPunct {
		set[r] = true
	}
	return &Normalizer{allowedPunct: set}
}

// Normalize lower-cases the input, strips characters outside the allow-set,
// collapses internal whitespace runs to single spaces and trims the result.
// Normalizing an already-normalized string returns it unchanged.
func (n *Normalizer) Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	space := false
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsSpace(r):
			space = true
		case unicode.IsLetter(r) || unicode.IsDigit(r) || n.allowedPunct[r]:
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			// stripped
		}
	}
	return b.String()
}
