package util

import (
	"regexp"
	"strings"
)

var nonDial = regexp.MustCompile(`[^\d\+]+`)

// NormalizePhone tries to normalize user input into E.164-like format.
// defaultCC (digits only, e.g. "1" or "98") is applied to national numbers
// written with a single leading 0.
func NormalizePhone(raw, defaultCC string) string {
	s := nonDial.ReplaceAllString(strings.TrimSpace(raw), "")
	if s == "" {
		return ""
	}

	switch {
	case strings.HasPrefix(s, "+"):
		return "+" + strings.ReplaceAll(s[1:], "+", "")
	case strings.HasPrefix(s, "00"):
		return "+" + s[2:]
	case strings.HasPrefix(s, "0") && defaultCC != "":
		return "+" + defaultCC + s[1:]
	case defaultCC != "" && !strings.HasPrefix(s, defaultCC):
		return "+" + defaultCC + s
	}

	return "+" + s
}
