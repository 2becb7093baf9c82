package password

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var ErrPolicy = errors.New("password does not meet policy")

// Policy is the password rule set applied on sign up, reset and change.
type Policy struct {
	MinLength      int
	RequireDigit   bool
	RequireUpper   bool
	RequireLower   bool
	RequireSpecial bool
}

// Check returns an error wrapping ErrPolicy that lists every unmet rule.
func (p Policy) Check(password string) error {
	var failed []string
	if len([]rune(password)) < p.MinLength {
		failed = append(failed, fmt.Sprintf("at least %d characters", p.MinLength))
	}
	if len(password) > maxPassBytes {
		failed = append(failed, "at most 1024 bytes")
	}

	var digit, upper, lower, special bool
	for _, r := range password {
		switch {
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}
	if p.RequireDigit && !digit {
		failed = append(failed, "a number")
	}
	if p.RequireUpper && !upper {
		failed = append(failed, "an uppercase letter")
	}
	if p.RequireLower && !lower {
		failed = append(failed, "a lowercase letter")
	}
	if p.RequireSpecial && !special {
		failed = append(failed, "a special character")
	}

	if len(failed) == 0 {
		return nil
	}
	return fmt.Errorf("%w: requires %s", ErrPolicy, strings.Join(failed, ", "))
}
