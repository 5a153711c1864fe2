package noticecast

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// CountryPrefix is the only accepted country code.
const CountryPrefix = "+91"

// Field limits for registrations.
const (
	MaxNameLen     = 100
	MaxLocalityLen = 100
	MaxNoticeLen   = 5000
)

var (
	phonePattern  = regexp.MustCompile(`^\+91[6-9]\d{9}$`)
	phoneStripper = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "", "\t", "")
)

// NormalizePhone returns the canonical +91XXXXXXXXXX form of raw, or a
// ValidationError. Applying it to its own output returns the same value.
func NormalizePhone(raw string) (string, error) {
	p := phoneStripper.Replace(strings.TrimSpace(raw))
	if p == "" {
		return "", invalid("phone", "required")
	}
	if !strings.HasPrefix(p, CountryPrefix) {
		switch {
		case strings.HasPrefix(p, "91") && len(p) == 12:
			p = "+" + p
		case strings.HasPrefix(p, "0"):
			p = CountryPrefix + p[1:]
		default:
			p = CountryPrefix + strings.TrimLeft(p, "+")
		}
	}
	if !phonePattern.MatchString(p) {
		return "", invalid("phone", "want a 10 digit Indian mobile number")
	}
	return p, nil
}

// cleanField collapses whitespace in s and enforces 1..limit runes.
func cleanField(field, s string, limit int) (string, error) {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return "", invalid(field, "required")
	}
	if utf8.RuneCountInString(s) > limit {
		return "", invalid(field, "too long")
	}
	return s, nil
}
