package session

import (
	"errors"
	"regexp"
)

// Validation failures are detected before any network call and never sent
// to the server.
var (
	ErrInvalidEmail    = errors.New("invalid email address")
	ErrEmptyPassword   = errors.New("password must not be empty")
	ErrInvalidCode     = errors.New("verification code must be 6 digits")
	ErrInvalidPIN      = errors.New("pin must be 4 to 6 digits")
	ErrPINMismatch     = errors.New("pins do not match")
	ErrTooManyPINTries = errors.New("too many pin attempts")
)

var (
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	codePattern  = regexp.MustCompile(`^[0-9]{6}$`)
	pinPattern   = regexp.MustCompile(`^[0-9]{4,6}$`)
)

func validateEmail(email string) error {
	if !emailPattern.MatchString(email) {
		return ErrInvalidEmail
	}
	return nil
}

func validatePassword(password string) error {
	if password == "" {
		return ErrEmptyPassword
	}
	return nil
}

func validateCode(code string) error {
	if !codePattern.MatchString(code) {
		return ErrInvalidCode
	}
	return nil
}

func validatePIN(pin string) error {
	if !pinPattern.MatchString(pin) {
		return ErrInvalidPIN
	}
	return nil
}
