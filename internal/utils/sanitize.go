package utils

import (
	"errors"
	"strings"
	"unicode"
)

// NormalizePhone strips formatting noise from a phone number so the same
// contact always produces the same gateway address. Spaces, dashes, dots
// and parentheses are dropped; a single leading "+" is preserved.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)

	var b strings.Builder
	for i, r := range phone {
		switch {
		case r == '+' && i == 0:
			b.WriteRune(r)
		case unicode.IsDigit(r):
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ErrInvalidPhone is returned for numbers the gateway cannot address.
var ErrInvalidPhone = errors.New("invalid phone number")

// ValidatePhone checks a normalized number is plausibly E.164: optional
// leading "+", then 5 to 15 digits.
func ValidatePhone(phone string) error {
	normalized := NormalizePhone(phone)
	digits := strings.TrimPrefix(normalized, "+")
	if len(digits) < 5 || len(digits) > 15 {
		return ErrInvalidPhone
	}
	return nil
}

// EscapeForLogging escapes client-supplied content for safe logging
func EscapeForLogging(text string, maxLen int) string {
	// Truncate
	if len(text) > maxLen {
		text = text[:maxLen] + "..."
	}

	// Remove newlines for single-line logging
	text = strings.ReplaceAll(text, "\n", "\\n")
	text = strings.ReplaceAll(text, "\r", "\\r")
	text = strings.ReplaceAll(text, "\t", "\\t")

	return text
}
