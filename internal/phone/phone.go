// internal/phone/phone.go

// Package phone produces the canonical recipient key used everywhere
// recipient identity is compared (ledger, store, coalescing buffer).
package phone

import (
	"regexp"
	"strings"
)

var e164Pattern = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)

// Normalize strips formatting from a raw recipient address and returns the
// canonical key. Phone numbers normalize toward E.164 ("00" prefix becomes
// "+", separators removed); email addresses are lowercased. An empty result
// means the address is unusable.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "@") {
		return strings.ToLower(s)
	}

	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
			// separators dropped
		default:
			return ""
		}
	}

	digits := b.String()
	if strings.HasPrefix(digits, "00") {
		digits = "+" + digits[2:]
	}
	if digits != "" && !strings.HasPrefix(digits, "+") {
		digits = "+" + digits
	}
	return digits
}

// IsValid reports whether key is a usable canonical recipient key.
func IsValid(key string) bool {
	if key == "" {
		return false
	}
	if strings.Contains(key, "@") {
		at := strings.Index(key, "@")
		return at > 0 && strings.Contains(key[at:], ".")
	}
	return e164Pattern.MatchString(key)
}

// IsEmail reports whether the canonical key is an email address.
func IsEmail(key string) bool {
	return strings.Contains(key, "@")
}
