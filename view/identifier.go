package view

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validIdent(s string) bool {
	return identPattern.MatchString(s)
}

func checkIdent(s string) error {
	if !validIdent(s) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, s)
	}
	return nil
}

// quoteIdent quotes an identifier already accepted by validIdent. Both
// SQLite and Postgres accept double quotes.
func quoteIdent(s string) string {
	return `"` + s + `"`
}

// toSnake derives a table name from a view name: "PlatformRollup v2"
// becomes "platform_rollup_v2". Anything outside [a-z0-9] turns into a
// single underscore so the result always passes validIdent once non-empty.
func toSnake(s string) string {
	if s == "" {
		return ""
	}

	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(runes) + len(runes)/2)

	lastUnderscore := false
	sep := func() {
		if !lastUnderscore && b.Len() > 0 {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}

	for i, r := range runes {
		switch {
		case r > unicode.MaxASCII:
			sep()

		case unicode.IsUpper(r):
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (nextLower && unicode.IsUpper(prev)) {
					sep()
				}
			}
			b.WriteRune(unicode.ToLower(r))
			lastUnderscore = false

		case unicode.IsLower(r):
			b.WriteRune(r)
			lastUnderscore = false

		case unicode.IsDigit(r):
			if b.Len() == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
			lastUnderscore = false

		default:
			sep()
		}
	}

	out := strings.TrimRight(b.String(), "_")
	if out == "_" {
		return ""
	}
	return out
}
