package session

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthenticationFailed matches any *AuthError
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrAuthenticationExpired means the server no longer accepts the bearer
	ErrAuthenticationExpired = errors.New("authentication expired")
	// ErrNotLoggedIn is returned by calls that need a live session
	ErrNotLoggedIn = errors.New("not logged in")
)

// AuthError is a rejected login carrying the server-reported reason
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return ErrAuthenticationFailed.Error()
	}
	return fmt.Sprintf("%s: %s", ErrAuthenticationFailed, e.Message)
}

func (e *AuthError) Is(target error) bool {
	return target == ErrAuthenticationFailed
}

func (e *AuthError) Unwrap() error {
	return e.Err
}
