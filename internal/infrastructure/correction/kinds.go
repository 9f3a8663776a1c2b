package correction

import (
	"regexp"
	"strings"

	"github.com/kirillkom/thai-fin-ocr/internal/core/domain"
)

var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\d{1,2}[/-]\d{1,2}[/-]\d{2,4}`),
	regexp.MustCompile(`\d{4}[/-]\d{1,2}[/-]\d{1,2}`),
	regexp.MustCompile(`วันที่\s*\d{1,2}`),
	regexp.MustCompile(`\d{1,2}\s*(?:ม\.ค\.|ก\.พ\.|มี\.ค\.|เม\.ย\.|พ\.ค\.|มิ\.ย\.|ก\.ค\.|ส\.ค\.|ก\.ย\.|ต\.ค\.|พ\.ย\.|ธ\.ค\.)`),
}

// InferKind classifies a corrected value. Checks run in a fixed order:
// currency markers, percent markers, dates, numbers, then text.
func InferKind(value string, format NumberFormat) domain.ValueKind {
	v := strings.TrimSpace(value)
	if v == "" {
		return domain.KindText
	}
	if hasCurrencyMarker(v) {
		if _, ok := ParseAmount(v, format); ok {
			return domain.KindCurrency
		}
	}
	if hasPercentMarker(v) {
		if _, ok := ParseAmount(v, format); ok {
			return domain.KindPercentage
		}
	}
	for _, pattern := range datePatterns {
		if pattern.MatchString(v) {
			return domain.KindDate
		}
	}
	if _, ok := ParseAmount(v, format); ok {
		return domain.KindNumber
	}
	return domain.KindText
}
