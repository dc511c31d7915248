package models

import "time"

// RevokedToken marks a bearer token id as unusable until ExpiresAt, after
// which the token fails its own expiry check and the row can be swept.
type RevokedToken struct {
	TokenID   string
	AccountID string
	ExpiresAt time.Time
	Reason    string
	CreatedAt time.Time
}
