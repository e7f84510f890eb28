package util

import (
	"strings"
	"unicode"
)

// knownThreeDigitCodes lists calling codes that are three digits long and
// appear in deployed allow-lists. Anything else is resolved as a two-digit
// code, or "+1" for NANP numbers.
var knownThreeDigitCodes = map[string]bool{
	"+971": true,
	"+966": true,
	"+880": true,
	"+977": true,
	"+994": true,
	"+998": true,
}

// NormalizeMobile trims whitespace and internal separators from an E.164
// number. It does not validate ownership, only shape.
func NormalizeMobile(mobile string) string {
	mobile = strings.TrimSpace(mobile)
	var b strings.Builder
	b.Grow(len(mobile))
	for i, r := range mobile {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsValidMobile reports whether the number looks like a plausible E.164
// mobile: leading plus, 9 to 15 digits.
func IsValidMobile(mobile string) bool {
	if !strings.HasPrefix(mobile, "+") {
		return false
	}
	digits := mobile[1:]
	if len(digits) < 9 || len(digits) > 15 {
		return false
	}
	for _, r := range digits {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// CountryCode extracts the calling code ("+91", "+44", "+1", ...) from an
// E.164 number. Returns empty string when the number is malformed.
func CountryCode(mobile string) string {
	if !IsValidMobile(mobile) {
		return ""
	}
	if mobile[1] == '1' {
		return "+1"
	}
	if len(mobile) >= 4 && knownThreeDigitCodes[mobile[:4]] {
		return mobile[:4]
	}
	return mobile[:3]
}

// MaskMobile keeps only the last four digits for log output.
func MaskMobile(mobile string) string {
	if len(mobile) <= 4 {
		return mobile
	}
	return "..." + mobile[len(mobile)-4:]
}

// MaskToken keeps only the first four characters of a challenge token for
// log output.
func MaskToken(token string) string {
	if len(token) <= 4 {
		return token
	}
	return token[:4] + "..."
}
