package auth

import (
	"fmt"
	"net/mail"
	"strings"
)

const (
	minPasswordLen = 8
	// bcrypt ignores everything past 72 bytes.
	maxPasswordLen = 72
	maxEmailLen    = 254
)

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if len(email) > maxEmailLen {
		return fmt.Errorf("%w: email is too long", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		return fmt.Errorf("%w: email is not a valid address", ErrInvalidInput)
	}
	return nil
}

func validatePassword(password string) error {
	switch {
	case len(password) < minPasswordLen:
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	case len(password) > maxPasswordLen:
		return fmt.Errorf("%w: password must be at most %d bytes", ErrInvalidInput, maxPasswordLen)
	case strings.TrimSpace(password) == "":
		return fmt.Errorf("%w: password must not be blank", ErrInvalidInput)
	}
	return nil
}
