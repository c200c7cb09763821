package util

import (
	"html"
	"strings"
)

// SanitizeInput escapes HTML/script-like characters from UI-supplied text
// such as device names before they are persisted or logged.
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return html.EscapeString(s)
}

// IsDigits reports whether s is non-empty and consists only of ASCII digits.
func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
