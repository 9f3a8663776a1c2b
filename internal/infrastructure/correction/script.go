package correction

import (
	"strings"
	"unicode"
)

const (
	thaiDigitZero = '\u0e50'
	thaiDigitNine = '\u0e59'
	thaiNikhahit  = '\u0e4d'
	thaiSaraAa    = '\u0e32'
	thaiSaraAm    = '\u0e33'
)

// ToASCIIDigits maps Thai numerals to 0-9 and leaves everything else intact.
func ToASCIIDigits(s string) string {
	if !strings.ContainsFunc(s, isThaiDigit) {
		return s
	}
	return strings.Map(func(r rune) rune {
		if isThaiDigit(r) {
			return '0' + (r - thaiDigitZero)
		}
		return r
	}, s)
}

// ToThaiDigits maps 0-9 to Thai numerals.
func ToThaiDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return thaiDigitZero + (r - '0')
		}
		return r
	}, s)
}

func isThaiDigit(r rune) bool {
	return r >= thaiDigitZero && r <= thaiDigitNine
}

// isCombiningMark reports Thai above/below vowels and tone marks.
func isCombiningMark(r rune) bool {
	switch {
	case r == '\u0e31':
		return true
	case r >= '\u0e34' && r <= '\u0e3a':
		return true
	case r >= '\u0e47' && r <= '\u0e4e':
		return true
	default:
		return false
	}
}

func isThaiLetter(r rune) bool {
	return r >= '\u0e01' && r <= '\u0e2e'
}

// Canonicalize is the always-applied script cleanup: numerals become ASCII,
// a decomposed SARA AM is composed, whitespace the recognizer inserted between
// a consonant and its combining mark is dropped, and repeated identical marks
// collapse to one.
func Canonicalize(s string) string {
	s = ToASCIIDigits(s)
	runes := []rune(s)
	out := make([]rune, 0, len(runes))
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == thaiNikhahit && i+1 < len(runes) && runes[i+1] == thaiSaraAa:
			out = append(out, thaiSaraAm)
			i++
		case unicode.IsSpace(r) && r != '\n' && joinsMark(out, runes, i):
			continue
		case isCombiningMark(r) && len(out) > 0 && out[len(out)-1] == r:
			continue
		default:
			out = append(out, r)
		}
	}
	return string(out)
}

// joinsMark reports a whitespace run at i sitting between Thai script and a combining mark.
func joinsMark(out, runes []rune, i int) bool {
	if len(out) == 0 {
		return false
	}
	if prev := out[len(out)-1]; !isThaiLetter(prev) && !isCombiningMark(prev) {
		return false
	}
	j := i
	for j < len(runes) && unicode.IsSpace(runes[j]) && runes[j] != '\n' {
		j++
	}
	return j < len(runes) && isCombiningMark(runes[j])
}
