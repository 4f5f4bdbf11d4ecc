package query

import (
	"strings"
	"unicode"
)

var selectFamily = map[string]bool{
	"SELECT":  true,
	"WITH":    true,
	"SHOW":    true,
	"EXPLAIN": true,
	"VALUES":  true,
	"TABLE":   true,
}

// LeadingKeyword returns the first keyword of sqlText in upper case, after
// skipping whitespace, opening parentheses and comments.
func LeadingKeyword(sqlText string) string {
	s := sqlText
	for {
		s = strings.TrimLeftFunc(s, unicode.IsSpace)
		switch {
		case strings.HasPrefix(s, "("):
			s = s[1:]
		case strings.HasPrefix(s, "--"):
			i := strings.IndexByte(s, '\n')
			if i < 0 {
				return ""
			}
			s = s[i+1:]
		case strings.HasPrefix(s, "/*"):
			i := strings.Index(s, "*/")
			if i < 0 {
				return ""
			}
			s = s[i+2:]
		default:
			end := strings.IndexFunc(s, func(r rune) bool {
				return !unicode.IsLetter(r)
			})
			if end < 0 {
				end = len(s)
			}
			return strings.ToUpper(s[:end])
		}
	}
}

// IsSelect reports whether sqlText is a row-returning statement.
func IsSelect(sqlText string) bool {
	return selectFamily[LeadingKeyword(sqlText)]
}
