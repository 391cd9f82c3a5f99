package auth

import "errors"

// Failure taxonomy sentinels; handlers map these onto HTTP statuses.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrExpired           = errors.New("expired")
	ErrInvalidCode       = errors.New("invalid code")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrNotVerified       = errors.New("phone not verified")
	ErrRateLimited       = errors.New("rate limit exceeded")
)
