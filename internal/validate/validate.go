package validate

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxPriceCents caps a listing at ten million dollars.
const MaxPriceCents = 1_000_000_000

var reID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Email lower-cases a bare address. Display-name forms are rejected.
func Email(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || len(s) > 254 {
		return "", false
	}
	a, err := mail.ParseAddress(s)
	if err != nil || a.Address != s || !strings.Contains(s[strings.LastIndexByte(s, '@'):], ".") {
		return "", false
	}
	return s, true
}

// ID validates a resource identifier: product, want list and item ids.
func ID(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, s != "" && reID.MatchString(s)
}

// Title trims a listing title and bounds it to 120 characters.
func Title(s string) (string, bool) {
	return text(s, 120)
}

// Name is a display name of up to 40 characters.
func Name(s string) (string, bool) {
	return text(s, 40)
}

func text(s string, max int) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" || utf8.RuneCountInString(s) > max {
		return "", false
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return "", false
		}
	}
	return s, true
}

// Password accepts 8 to 64 bytes with at least one letter and one digit.
// bcrypt ignores anything past 72 bytes.
func Password(s string) bool {
	if len(s) < 8 || len(s) > 64 {
		return false
	}
	return strings.IndexFunc(s, unicode.IsLetter) >= 0 && strings.IndexFunc(s, unicode.IsDigit) >= 0
}
