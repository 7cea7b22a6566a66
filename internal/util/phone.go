package util

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPhone is returned when a phone number cannot be normalized
// to international format.
var ErrInvalidPhone = errors.New("invalid phone number")

// DefaultCountryCode is the country prefix assumed for numbers written
// in national format. The clinic operates in Japan.
const DefaultCountryCode = "81"

// NormalizePhone rewrites a phone number into E.164-style
// `+<countrycode><national number>`. Separators are stripped first. A
// leading trunk-prefix zero is replaced by the country code; a number
// that already starts with the country code only gains the plus sign.
// Numbers with fewer than 10 digits are rejected rather than passed
// through.
func NormalizePhone(raw, countryCode string) (string, error) {
	countryCode = strings.TrimSpace(countryCode)
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}

	var digits strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == '-' || r == ' ' || r == '(' || r == ')' || r == '+' || r == '.':
			// separator, ignore
		default:
			return "", fmt.Errorf("%w: unexpected character %q", ErrInvalidPhone, r)
		}
	}

	num := digits.String()
	if len(num) < 10 {
		return "", fmt.Errorf("%w: too short (%d digits)", ErrInvalidPhone, len(num))
	}

	switch {
	case strings.HasPrefix(num, "0"):
		return "+" + countryCode + num[1:], nil
	case strings.HasPrefix(num, countryCode):
		return "+" + num, nil
	default:
		return "", fmt.Errorf("%w: missing trunk prefix or country code", ErrInvalidPhone)
	}
}
