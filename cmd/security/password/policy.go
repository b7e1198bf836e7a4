package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Validate applies the floor for passwords set at approval or bootstrap.
// Lengths are counted in runes.
func (c Config) Validate(pw string) error {
	return c.Policy.check(pw, c.Policy.MinLength)
}

// ValidateChange applies the stricter floor members meet when they pick a
// new password themselves.
func (c Config) ValidateChange(pw string) error {
	return c.Policy.check(pw, c.Policy.ChangeFloor())
}

// ChangeFloor is the minimum length for a member-chosen password. It never
// drops below MinLength.
func (p Policy) ChangeFloor() int {
	return max(p.ChangeMinLength, p.MinLength)
}

func (p Policy) check(pw string, floor int) error {
	switch n := utf8.RuneCountInString(pw); {
	case n < floor:
		return ErrPasswordTooShort
	case n > p.MaxLength:
		return ErrPasswordTooLong
	}
	if p.RejectVeryWeak && trivial(pw) {
		return ErrWeakPassword
	}
	return nil
}

var trivialPasswords = map[string]struct{}{
	"password": {}, "password1": {}, "password123": {},
	"qwerty": {}, "qwerty123": {}, "letmein": {}, "welcome": {},
	"changeme": {}, "clubhouse": {}, "members": {}, "member123": {},
}

// trivial flags well-known picks, short all-digit PINs, and straight runs
// such as "aaaaaa", "abcdefg" or "87654321". It is not an entropy estimator.
func trivial(pw string) bool {
	s := strings.ToLower(strings.TrimSpace(pw))
	if s == "" {
		return true
	}
	if _, ok := trivialPasswords[s]; ok {
		return true
	}
	runes := []rune(s)
	if len(runes) < 12 && strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) }) < 0 {
		return true
	}
	return straightRun(runes)
}

// straightRun reports whether every rune repeats or steps by one from the previous.
func straightRun(r []rune) bool {
	if len(r) < 2 {
		return true
	}
	step := r[1] - r[0]
	if step < -1 || step > 1 {
		return false
	}
	for i := 2; i < len(r); i++ {
		if r[i]-r[i-1] != step {
			return false
		}
	}
	return true
}
