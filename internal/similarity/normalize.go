package similarity

import (
	"strings"
	"unicode"
)

// noiseTokens are words banks and invoicing tools add to descriptions that say
// nothing about who was paid.
var noiseTokens = map[string]bool{
	"ACH":       true,
	"CARD":      true,
	"CHECKCARD": true,
	"CO":        true,
	"CORP":      true,
	"DBA":       true,
	"DEBIT":     true,
	"INC":       true,
	"INV":       true,
	"INVOICE":   true,
	"LLC":       true,
	"LTD":       true,
	"ONLINE":    true,
	"PAYMENT":   true,
	"POS":       true,
	"PURCHASE":  true,
	"SQ":        true,
	"THE":       true,
	"TST":       true,
	"WEB":       true,
	"WIRE":      true,
	"XFER":      true,
}

// Tokens splits s into upper-case alphanumeric words, dropping digit-only
// tokens and bank noise. Order is preserved and duplicates are removed.
func Tokens(s string) []string {
	fields := strings.FieldsFunc(strings.ToUpper(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]bool, len(fields))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if noiseTokens[f] || isDigits(f) || seen[f] {
			continue
		}
		seen[f] = true
		tokens = append(tokens, f)
	}
	return tokens
}

// Normalize reduces s to its meaningful tokens joined by single spaces.
func Normalize(s string) string {
	return strings.Join(Tokens(s), " ")
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
