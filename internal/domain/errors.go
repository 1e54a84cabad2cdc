package domain

import (
	"errors"
	"fmt"
)

var (
	ErrSignatureInvalid    = errors.New("signed payload invalid")
	ErrTokenInvalid        = errors.New("customer token invalid")
	ErrAuthorizationFailed = errors.New("authorization failed")
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrConflict            = errors.New("conflict")
)

// AuthorizationError is returned when the token endpoint rejects an exchange.
// Body holds the upstream response for diagnostics and never contains a token.
type AuthorizationError struct {
	StatusCode int
	Body       string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("authorization failed: status %d: %s", e.StatusCode, e.Body)
}

func (e *AuthorizationError) Unwrap() error {
	return ErrAuthorizationFailed
}
