package auth

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("resource conflict")
)

// ErrInvalidCredentials is returned for every failed login, whatever the cause.
var ErrInvalidCredentials = fmt.Errorf("%w: invalid email or password", ErrUnauthorized)

// ErrInvalidToken indicates an access or refresh token failed validation.
var ErrInvalidToken = fmt.Errorf("%w: invalid or expired token", ErrUnauthorized)
