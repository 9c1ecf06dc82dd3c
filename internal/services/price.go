package services

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// ParseLocalPrice extracts an amount from storefront price text such as
// "kr 1 249,00", "149,-", "NOK 89.50" or "1.249,00 kr".
func ParseLocalPrice(text string) (decimal.Decimal, error) {
	var b strings.Builder
	for _, r := range text {
		if unicode.IsDigit(r) || r == ',' || r == '.' {
			b.WriteRune(r)
		}
	}
	s := strings.Trim(b.String(), ",.")
	if s == "" {
		return decimal.Zero, fmt.Errorf("no amount in price %q", text)
	}

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		// Whichever separator comes last is the decimal point
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		s = normalizeSingleSeparator(s, ",")
	case lastDot >= 0:
		s = normalizeSingleSeparator(s, ".")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse price %q: %w", text, err)
	}
	return d, nil
}

// normalizeSingleSeparator treats sep as a thousands separator when it repeats or is
// followed by exactly three digits, and as the decimal point otherwise.
func normalizeSingleSeparator(s, sep string) string {
	parts := strings.Split(s, sep)
	if len(parts) > 2 || len(parts[len(parts)-1]) == 3 {
		return strings.Join(parts, "")
	}
	return parts[0] + "." + parts[1]
}
