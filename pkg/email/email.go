// Package email derives human-readable fallbacks from email addresses for
// provider records that arrive without a learner name.
package email

import (
	"strings"
	"unicode"
)

// DisplayName builds a "First Last" guess from the address's local part,
// splitting on common separators. "asha.verma@example.in" becomes
// "Asha Verma"; a local part without separators yields a single capitalized
// word.
func DisplayName(address string) string {
	local := address
	if at := strings.IndexByte(address, '@'); at > 0 {
		local = address[:at]
	}

	parts := strings.FieldsFunc(local, func(r rune) bool {
		switch r {
		case '.', '_', '-', '+':
			return true
		}
		return false
	})
	if len(parts) == 0 {
		return "Learner"
	}

	if len(parts) == 1 {
		return capitalize(parts[0])
	}
	return capitalize(parts[0]) + " " + capitalize(parts[len(parts)-1])
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
