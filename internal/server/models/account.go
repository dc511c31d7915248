// Package models holds the persistent records of the auth server. They are
// plain structs; behaviour lives in repositories and services.
package models

import "time"

// Account is one registered user. ProofHash is a bcrypt hash of the client's
// authentication proof; the master secret itself never reaches the server.
type Account struct {
	ID            string
	Email         string
	ProofHash     string
	SecurityLevel int
	Role          string

	FailedAttempts int
	Locked         bool
	LockedAt       *time.Time
	LastActivityAt *time.Time

	MfaEnabled        bool
	MfaSecret         []byte // sealed, set only while MFA is enabled
	MfaPendingSecret  []byte // sealed, set between setup and confirmation
	MfaPendingAt      *time.Time
	MfaFailedAttempts int
	MfaLastCounter    int64

	RecoveryCodesRemaining int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Roles returns the role claims for the account.
func (a *Account) Roles() []string {
	if a.Role == "" {
		return nil
	}
	return []string{a.Role}
}
