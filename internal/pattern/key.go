// Package pattern learns from accept and reject decisions which vendor and
// description pairings belong together.
package pattern

import (
	"strings"

	"github.com/Veraticus/invoice-match/internal/similarity"
)

// keySeparator divides the vendor half of a key from the description half.
const keySeparator = "|"

// NormalizeKey lower-cases s and strips digits, punctuation, and bank noise,
// so "ACME HOSTING INV-1042" and "Acme Hosting #1187" normalize alike.
func NormalizeKey(s string) string {
	return strings.ToLower(similarity.Normalize(s))
}

// Key builds the pattern key for an invoice vendor and a transaction
// description. It returns "" when either side normalizes to nothing.
func Key(vendor, description string) string {
	v, d := NormalizeKey(vendor), NormalizeKey(description)
	if v == "" || d == "" {
		return ""
	}
	return v + keySeparator + d
}

// SplitKey returns the vendor and description halves of a key.
func SplitKey(key string) (vendor, description string) {
	vendor, description, _ = strings.Cut(key, keySeparator)
	return vendor, description
}
