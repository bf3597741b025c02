package auth

import "errors"

var (
	// ErrInvalidToken indicates the session credential failed validation.
	ErrInvalidToken  = errors.New("auth: invalid token")
	ErrMissingSecret = errors.New("auth: session secret is not configured")
	ErrUnauthorized  = errors.New("auth: unauthorized")
)
