// internal/service/phone.go
package service

import (
	"fmt"
	"strings"
)

// defaultCountryCode is prepended to national numbers without one.
const defaultCountryCode = "55"

// NormalizePhone cleans a free-form phone number into E.164. Numbers
// without a country code are assumed national (10-11 digits) and get
// the default country code. Anything that does not reduce to 8-15
// digits is rejected.
func NormalizePhone(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("phone number is empty")
	}

	hasPlus := strings.HasPrefix(trimmed, "+")

	var digits strings.Builder
	for _, r := range trimmed {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	num := digits.String()
	if len(num) < 8 || len(num) > 15 {
		return "", fmt.Errorf("phone number %q has %d digits, expected 8-15", raw, len(num))
	}

	if !hasPlus {
		// 10-11 digits is a national number (area code + subscriber)
		if len(num) == 10 || len(num) == 11 {
			num = defaultCountryCode + num
		}
	}

	return "+" + num, nil
}
