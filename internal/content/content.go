package content

import (
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

const (
	MinUsernameLen = 3
	MaxUsernameLen = 30
	MinPasswordLen = 8
	MinAboutLen    = 10
	MaxAboutLen    = 200
)

var (
	policy        = bluemonday.UGCPolicy()
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
)

// Sanitize removes unsafe HTML from the input string.
// It is used for message contents and profile texts before they are stored.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// ValidateUsername checks the length and that the username contains only
// alphanumerics, dot, dash and underscore.
func ValidateUsername(username string) error {
	n := utf8.RuneCountInString(username)
	if n < MinUsernameLen || n > MaxUsernameLen {
		return fmt.Errorf("username must be %d to %d characters long", MinUsernameLen, MaxUsernameLen)
	}
	if !usernameRegex.MatchString(username) {
		return errors.New("username contains invalid characters (allowed: alphanumeric, dot, dash, underscore)")
	}
	return nil
}

func ValidateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(addr.Address[strings.LastIndex(addr.Address, "@"):], ".") {
		return errors.New("email is not valid")
	}
	return nil
}

// ValidatePassword requires a lower and an upper case letter, a digit and a
// symbol.
func ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLen {
		return fmt.Errorf("password must be at least %d characters long", MinPasswordLen)
	}
	var lower, upper, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	if !lower || !upper || !digit || !symbol {
		return errors.New("password must contain upper and lower case letters, a digit and a symbol")
	}
	return nil
}

// ValidateAbout accepts an empty text; the caller substitutes a default.
func ValidateAbout(about string) error {
	if about == "" {
		return nil
	}
	n := utf8.RuneCountInString(about)
	if n < MinAboutLen || n > MaxAboutLen {
		return fmt.Errorf("about must be %d to %d characters long", MinAboutLen, MaxAboutLen)
	}
	return nil
}
