package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var multiSpaceRe = regexp.MustCompile(`\s+`)

// CleanText removes zero-width characters, collapses whitespace runs to a
// single space and trims.
func CleanText(text string) string {
	text = strings.Map(func(r rune) rune {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\ufeff', '\u00ad':
			return -1
		}
		return r
	}, text)

	return strings.TrimSpace(multiSpaceRe.ReplaceAllString(text, " "))
}

// Truncate cuts text to at most maxRunes runes. Multi-byte characters are
// never split.
func Truncate(text string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	n := 0
	for i := range text {
		if n == maxRunes {
			return strings.TrimSpace(text[:i])
		}
		n++
	}
	return text
}
