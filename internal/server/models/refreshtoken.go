package models

import "time"

// Revocation reasons stored on refresh tokens and ledger entries.
const (
	RevokeReasonRotated        = "rotated"
	RevokeReasonLogout         = "logout"
	RevokeReasonLogoutAll      = "logout_all"
	RevokeReasonPasswordChange = "password_change"
	RevokeReasonReuseDetected  = "reuse_detected"
)

// RefreshToken is stored by hash; the opaque value only exists on the client.
type RefreshToken struct {
	ID           string
	AccountID    string
	TokenHash    string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	Revoked      bool
	RevokedAt    *time.Time
	RevokeReason string
	ReplacedBy   *string
}

// Active reports whether the token can still be redeemed at now.
func (t *RefreshToken) Active(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}
