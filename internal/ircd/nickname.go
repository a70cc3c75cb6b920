package ircd

import "strings"

// foldASCII is the fast-path case fold used for command names and channel
// names: plain ASCII lowercasing. It intentionally does not touch non-ASCII
// bytes, matching the "fast path" folding the line parser and channel
// registry need.
func foldASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c - 'A' + 'a'
		}
	}
	return string(b)
}

// isValidNickname reports whether candidate satisfies the registration
// grammar: length 1-16, first character ASCII alphanumeric or underscore.
func isValidNickname(candidate string) bool {
	if len(candidate) < 1 || len(candidate) > 16 {
		return false
	}
	c := candidate[0]
	switch {
	case c >= 'a' && c <= 'z':
	case c >= 'A' && c <= 'Z':
	case c >= '0' && c <= '9':
	case c == '_':
	default:
		return false
	}
	return true
}

// confusableSkeleton maps a handful of Unicode code points that are
// visually confusable with plain ASCII letters to their ASCII equivalent.
// It is deliberately small: it exists to satisfy nickname-uniqueness
// comparisons, not to be a general Unicode confusables table.
var confusableSkeleton = map[rune]rune{
	'ė': 'e', 'é': 'e', 'è': 'e', 'ê': 'e', 'ë': 'e',
	'á': 'a', 'à': 'a', 'â': 'a', 'ä': 'a', 'ā': 'a',
	'í': 'i', 'ì': 'i', 'î': 'i', 'ï': 'i', 'ı': 'i',
	'ó': 'o', 'ò': 'o', 'ô': 'o', 'ö': 'o', 'ø': 'o', '0': 'o',
	'ú': 'u', 'ù': 'u', 'û': 'u', 'ü': 'u',
	'ñ': 'n',
	'ç': 'c',
	'ý': 'y', 'ÿ': 'y',
	'1': 'l', 'ł': 'l',
	'5': 's',
	'3': 'e',
}

// cureNickname folds a nickname to a canonical form used only for the
// uniqueness comparison (§4.5.2), never for display: visually-confusable
// code points are collapsed to a shared ASCII letter, then the result is
// lowercased. "tėst" and "test" cure to the same value.
func cureNickname(nick string) string {
	var b strings.Builder
	b.Grow(len(nick))
	for _, r := range nick {
		if repl, ok := confusableSkeleton[r]; ok {
			r = repl
		}
		if r >= 'A' && r <= 'Z' {
			r = r - 'A' + 'a'
		}
		b.WriteRune(r)
	}
	return b.String()
}
