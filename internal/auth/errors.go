package auth

import "errors"

var (
	// ErrUnauthorized covers missing, malformed and expired credentials.
	ErrUnauthorized = errors.New("auth: unauthorized")
	// ErrForbidden is returned when a valid identity lacks the role or scope.
	ErrForbidden = errors.New("auth: access denied")
	// ErrInvalidToken is returned for tokens that fail verification.
	ErrInvalidToken = errors.New("auth: invalid token")
)
