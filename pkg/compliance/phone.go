package compliance

import (
	"fmt"
	"strings"
)

// NormalizePhone strips formatting and resolves local-format numbers to
// E.164 digits (no plus sign). countryCode is applied when the input has
// a leading zero or is bare national digits.
func NormalizePhone(raw, countryCode string) (string, error) {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	phone := digits.String()

	if len(phone) < 7 {
		return "", fmt.Errorf("phone number too short: %q", raw)
	}

	switch {
	case strings.HasPrefix(phone, "00"):
		phone = phone[2:]
	case strings.HasPrefix(phone, "0"):
		phone = countryCode + phone[1:]
	case len(phone) <= 10 && !strings.HasPrefix(phone, countryCode):
		phone = countryCode + phone
	}

	if len(phone) > 15 {
		return "", fmt.Errorf("phone number too long: %q", raw)
	}

	return phone, nil
}
