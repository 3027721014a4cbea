package utils

import (
	"fmt"
	"strings"
)

// NormalizePhone converts a phone number to canonical E.164 form.
// Separator characters are stripped; 10-digit numbers are assumed to be
// US/Canada and get a +1 prefix. Anything that does not reduce to 10-15
// digits is rejected.
func NormalizePhone(phone string) (string, error) {
	cleaned := strings.TrimSpace(phone)
	hasPlus := strings.HasPrefix(cleaned, "+")

	var digits strings.Builder
	for _, r := range cleaned {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
			continue
		}
		switch r {
		case '+', '-', ' ', '(', ')', '.':
			// separators, ignored
		default:
			return "", fmt.Errorf("invalid character %q in phone number", r)
		}
	}

	num := digits.String()
	switch {
	case len(num) == 10 && !hasPlus:
		return "+1" + num, nil
	case len(num) == 11 && !hasPlus && strings.HasPrefix(num, "1"):
		return "+" + num, nil
	case len(num) >= 10 && len(num) <= 15:
		return "+" + num, nil
	default:
		return "", fmt.Errorf("phone number must contain 10-15 digits, got %d", len(num))
	}
}
