// Package phone canonicalizes phone numbers into the +<country><subscriber>
// wire format used everywhere else in the system.
package phone

import "strings"

// DefaultCountryCode is the calling code used when none is configured (Tanzania).
const DefaultCountryCode = "255"

// Normalize canonicalizes raw phone input. It strips everything except digits
// and a leading +, then applies the country-code rules:
//   - already +-prefixed: kept as-is
//   - starts with the country calling code: + is prefixed
//   - 10-digit local number starting with 0: leading 0 replaced by +<cc>
//   - 9-digit subscriber number: +<cc> prefixed
//
// Normalize is pure and idempotent: Normalize(Normalize(x)) == Normalize(x).
func Normalize(raw, countryCode string) string {
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}

	var b strings.Builder
	for i, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else if r == '+' && i == 0 {
			b.WriteRune(r)
		}
	}
	s := b.String()

	switch {
	case s == "":
		return ""
	case strings.HasPrefix(s, "+"):
		return s
	case strings.HasPrefix(s, countryCode):
		return "+" + s
	case len(s) == 10 && strings.HasPrefix(s, "0"):
		return "+" + countryCode + s[1:]
	case len(s) == 9:
		return "+" + countryCode + s
	}
	return s
}

// IsValid reports whether the canonical form looks like a usable subscriber
// number. Handlers use this to reject malformed input with 400.
func IsValid(canonical string) bool {
	if !strings.HasPrefix(canonical, "+") {
		return false
	}
	digits := canonical[1:]
	if len(digits) < 10 || len(digits) > 15 {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
