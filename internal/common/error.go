// Package common defines shared constants and sentinel errors used across
// the tokenkeeper server and tools. Callers should use errors.Is to match
// these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Registration errors.
	ErrUserAlreadyExists = errors.New("user with this email already exists")
	ErrUsernameConflict  = errors.New("username is already taken")
	ErrStorageConflict   = errors.New("resource already exists")

	// Login errors. Unknown user and wrong password are indistinguishable.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// Token lifecycle errors.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// Startup errors.
	ErrConfiguration = errors.New("configuration error")
)
