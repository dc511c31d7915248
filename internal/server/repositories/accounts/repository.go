// Package accounts stores accounts together with their lockout counters and
// MFA state.
package accounts

import (
	"context"
	"time"

	"github.com/dmitrijs2005/keeperauth/internal/server/models"
)

// Repository is the account store. Counter updates are single statements so
// concurrent failures are never lost. Compare-and-swap methods return
// common.ErrConflict when their guard does not hold and common.ErrorNotFound
// when the account does not exist.
type Repository interface {
	Create(ctx context.Context, a *models.Account) error
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)

	// RecordLoginFailure bumps the failure counter and locks the account once
	// it reaches maxAttempts. It returns the new counter and lock state.
	RecordLoginFailure(ctx context.Context, id string, maxAttempts int, now time.Time) (int, bool, error)
	RecordLoginSuccess(ctx context.Context, id string, now time.Time) error
	RecordMfaFailure(ctx context.Context, id string, maxAttempts int, now time.Time) (int, bool, error)
	ResetMfaFailures(ctx context.Context, id string, now time.Time) error
	Unlock(ctx context.Context, id string, now time.Time) error

	ReplaceProof(ctx context.Context, id, oldHash, newHash string, level int, now time.Time) error

	SetPendingMfaSecret(ctx context.Context, id string, sealed []byte, now time.Time) error
	EnableMfa(ctx context.Context, id string, sealed []byte, counter int64, recoveryCodes int, now time.Time) error
	DisableMfa(ctx context.Context, id string, now time.Time) error
	// AdvanceMfaCounter stores counter only if it is newer than the last
	// accepted one, and reports whether it did.
	AdvanceMfaCounter(ctx context.Context, id string, counter int64, now time.Time) (bool, error)
	// SetRecoveryCodesRemaining only touches accounts with MFA enabled.
	SetRecoveryCodesRemaining(ctx context.Context, id string, n int, now time.Time) error
	DecrementRecoveryCodes(ctx context.Context, id string, now time.Time) error
}
