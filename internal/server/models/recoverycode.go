package models

import "time"

// RecoveryCode is a hashed single-use second factor.
type RecoveryCode struct {
	ID        string
	AccountID string
	CodeHash  string
	Used      bool
	UsedAt    *time.Time
	CreatedAt time.Time
}
