// Package common defines shared constants and sentinel errors used across
// client and server layers of keeperauth. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")
	ErrConflict   = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrValidation     = errors.New("validation error")

	// Credential errors. ErrInvalidCredentials never says which of email or
	// proof was wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")

	// Token errors (expired, revoked, rotated and unknown look the same).
	ErrInvalidToken = errors.New("invalid token")

	// MFA state machine errors.
	ErrInvalidMfaCode          = errors.New("invalid mfa code")
	ErrMfaAlreadyEnabled       = errors.New("mfa already enabled")
	ErrMfaNotEnabled           = errors.New("mfa not enabled")
	ErrMfaEnrollmentNotStarted = errors.New("mfa enrollment not started")
)
