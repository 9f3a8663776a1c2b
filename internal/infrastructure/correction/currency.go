package correction

import (
	"regexp"
	"strconv"
	"strings"
)

// NumberFormat names the separators a locale uses in amounts.
type NumberFormat struct {
	Thousands rune
	Decimal   rune
}

// ThaiNumberFormat covers Thai and English financial statements.
var ThaiNumberFormat = NumberFormat{Thousands: ',', Decimal: '.'}

var (
	currencyMarkerPattern = regexp.MustCompile(`[฿$€£¥₹]|บาท|(?i)\b(?:THB|USD|EUR)\b`)
	percentMarkerPattern  = regexp.MustCompile(`%|เปอร์เซ็นต์|ร้อยละ`)
	plainNumberPattern    = regexp.MustCompile(`^[-+]?\d+(?:\.\d+)?$`)
)

func hasCurrencyMarker(s string) bool {
	return currencyMarkerPattern.MatchString(s)
}

func hasPercentMarker(s string) bool {
	return percentMarkerPattern.MatchString(s)
}

// ParseAmount reads a number that may carry currency or percent markers,
// thousands separators, Thai numerals or accounting parentheses (negative).
func ParseAmount(raw string, format NumberFormat) (float64, bool) {
	s := ToASCIIDigits(strings.TrimSpace(raw))
	s = currencyMarkerPattern.ReplaceAllString(s, "")
	s = percentMarkerPattern.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = canonicalNumber(s, format)
	if !plainNumberPattern.MatchString(s) {
		return 0, false
	}
	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if negative {
		if value < 0 {
			return 0, false
		}
		value = -value
	}
	return value, true
}

// canonicalNumber drops thousands separators and whitespace and maps the
// locale decimal mark to '.'.
func canonicalNumber(s string, format NumberFormat) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == format.Thousands:
			continue
		case r == ' ' || r == '\u00a0':
			continue
		case r == format.Decimal:
			b.WriteRune('.')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
