// internal/phone/phone_test.go
package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected string
	}{
		{"already e164", "+96170123456", "+96170123456"},
		{"spaces and dashes", "+961 70-123 456", "+96170123456"},
		{"parentheses", "+961 (70) 123456", "+96170123456"},
		{"double zero prefix", "0096170123456", "+96170123456"},
		{"bare digits get plus", "96170123456", "+96170123456"},
		{"email lowercased", "Jane.Doe@Example.COM", "jane.doe@example.com"},
		{"email trimmed", "  jane@example.com ", "jane@example.com"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.raw))
		})
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	inputs := []string{"+961 70 123 456", "0096170123456", "Jane@Example.com"}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "normalizing %q twice changed the result", in)
	}
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		key   string
		valid bool
	}{
		{"+96170123456", true},
		{"jane@example.com", true},
		{"+0123456789", false}, // leading zero after +
		{"70123456", false},    // not normalized
		{"jane@example", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.valid, IsValid(tt.key), "IsValid(%q)", tt.key)
	}
}

func TestIsEmail(t *testing.T) {
	assert.True(t, IsEmail("jane@example.com"))
	assert.False(t, IsEmail("+96170123456"))
}
