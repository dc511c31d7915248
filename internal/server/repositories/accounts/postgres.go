package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/keeperauth/internal/common"
	"github.com/dmitrijs2005/keeperauth/internal/dbx"
	"github.com/dmitrijs2005/keeperauth/internal/server/models"
)

// PostgresRepository stores accounts in Postgres.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository returns a repository bound to db.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectAccount = `SELECT id, email, proof_hash, security_level, role,
       failed_attempts, locked, locked_at, last_activity_at,
       mfa_enabled, mfa_secret, mfa_pending_secret, mfa_pending_at,
       mfa_failed_attempts, mfa_last_counter, recovery_codes_remaining,
       created_at, updated_at
FROM accounts`

// Create inserts a. A taken email is common.ErrConflict.
func (r *PostgresRepository) Create(ctx context.Context, a *models.Account) error {
	query := `INSERT INTO accounts (id, email, proof_hash, security_level, role, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query, a.ID, a.Email, a.ProofHash, a.SecurityLevel, a.Role, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrConflict
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// GetByID returns common.ErrorNotFound for unknown ids.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	return r.getOne(ctx, selectAccount+` WHERE id = $1`, id)
}

// GetByEmail expects an already normalized email.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	return r.getOne(ctx, selectAccount+` WHERE email = $1`, email)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg any) (*models.Account, error) {
	var (
		a                               models.Account
		lockedAt, lastActive, pendingAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&a.ID, &a.Email, &a.ProofHash, &a.SecurityLevel, &a.Role,
		&a.FailedAttempts, &a.Locked, &lockedAt, &lastActive,
		&a.MfaEnabled, &a.MfaSecret, &a.MfaPendingSecret, &pendingAt,
		&a.MfaFailedAttempts, &a.MfaLastCounter, &a.RecoveryCodesRemaining,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	a.LockedAt = timePtr(lockedAt)
	a.LastActivityAt = timePtr(lastActive)
	a.MfaPendingAt = timePtr(pendingAt)
	return &a, nil
}

// RecordLoginFailure increments the counter in SQL and locks the account
// once it reaches maxAttempts. It returns the new count and the lock state.
func (r *PostgresRepository) RecordLoginFailure(ctx context.Context, id string, maxAttempts int, now time.Time) (int, bool, error) {
	query := `UPDATE accounts
SET failed_attempts = failed_attempts + 1,
    locked = locked OR failed_attempts + 1 >= $2,
    locked_at = CASE WHEN NOT locked AND failed_attempts + 1 >= $2 THEN $3 ELSE locked_at END,
    updated_at = $3
WHERE id = $1
RETURNING failed_attempts, locked`

	return r.bump(ctx, query, id, maxAttempts, now)
}

// RecordMfaFailure is RecordLoginFailure for the second-factor counter.
func (r *PostgresRepository) RecordMfaFailure(ctx context.Context, id string, maxAttempts int, now time.Time) (int, bool, error) {
	query := `UPDATE accounts
SET mfa_failed_attempts = mfa_failed_attempts + 1,
    locked = locked OR mfa_failed_attempts + 1 >= $2,
    locked_at = CASE WHEN NOT locked AND mfa_failed_attempts + 1 >= $2 THEN $3 ELSE locked_at END,
    updated_at = $3
WHERE id = $1
RETURNING mfa_failed_attempts, locked`

	return r.bump(ctx, query, id, maxAttempts, now)
}

func (r *PostgresRepository) bump(ctx context.Context, query, id string, maxAttempts int, now time.Time) (int, bool, error) {
	var (
		attempts int
		locked   bool
	)
	if err := r.db.QueryRowContext(ctx, query, id, maxAttempts, now).Scan(&attempts, &locked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, common.ErrorNotFound
		}
		return 0, false, fmt.Errorf("db error: %w", err)
	}
	return attempts, locked, nil
}

// RecordLoginSuccess resets the counter and stamps last activity.
func (r *PostgresRepository) RecordLoginSuccess(ctx context.Context, id string, now time.Time) error {
	query := `UPDATE accounts SET failed_attempts = 0, last_activity_at = $2, updated_at = $2 WHERE id = $1`
	return r.execOne(ctx, common.ErrorNotFound, query, id, now)
}

// ResetMfaFailures clears the second-factor counter.
func (r *PostgresRepository) ResetMfaFailures(ctx context.Context, id string, now time.Time) error {
	query := `UPDATE accounts SET mfa_failed_attempts = 0, updated_at = $2 WHERE id = $1`
	return r.execOne(ctx, common.ErrorNotFound, query, id, now)
}

// Unlock clears the lock and both counters.
func (r *PostgresRepository) Unlock(ctx context.Context, id string, now time.Time) error {
	query := `UPDATE accounts
SET locked = FALSE, locked_at = NULL, failed_attempts = 0, mfa_failed_attempts = 0, updated_at = $2
WHERE id = $1`
	return r.execOne(ctx, common.ErrorNotFound, query, id, now)
}

// ReplaceProof swaps the hash only if it still equals oldHash; otherwise
// common.ErrConflict.
func (r *PostgresRepository) ReplaceProof(ctx context.Context, id, oldHash, newHash string, level int, now time.Time) error {
	query := `UPDATE accounts
SET proof_hash = $3, security_level = $4, updated_at = $5
WHERE id = $1 AND proof_hash = $2`
	return r.execOne(ctx, common.ErrConflict, query, id, oldHash, newHash, level, now)
}

// SetPendingMfaSecret stores a sealed secret awaiting confirmation.
func (r *PostgresRepository) SetPendingMfaSecret(ctx context.Context, id string, sealed []byte, now time.Time) error {
	query := `UPDATE accounts SET mfa_pending_secret = $2, mfa_pending_at = $3, updated_at = $3 WHERE id = $1`
	return r.execOne(ctx, common.ErrorNotFound, query, id, sealed, now)
}

// EnableMfa promotes the secret if MFA is still off; otherwise
// common.ErrConflict.
func (r *PostgresRepository) EnableMfa(ctx context.Context, id string, sealed []byte, counter int64, recoveryCodes int, now time.Time) error {
	query := `UPDATE accounts
SET mfa_enabled = TRUE, mfa_secret = $2, mfa_pending_secret = NULL, mfa_pending_at = NULL,
    mfa_last_counter = $3, mfa_failed_attempts = 0, recovery_codes_remaining = $4, updated_at = $5
WHERE id = $1 AND NOT mfa_enabled`
	return r.execOne(ctx, common.ErrConflict, query, id, sealed, counter, recoveryCodes, now)
}

// DisableMfa clears every MFA column if MFA is on; otherwise
// common.ErrConflict.
func (r *PostgresRepository) DisableMfa(ctx context.Context, id string, now time.Time) error {
	query := `UPDATE accounts
SET mfa_enabled = FALSE, mfa_secret = NULL, mfa_pending_secret = NULL, mfa_pending_at = NULL,
    mfa_last_counter = 0, recovery_codes_remaining = 0, updated_at = $2
WHERE id = $1 AND mfa_enabled`
	return r.execOne(ctx, common.ErrConflict, query, id, now)
}

// AdvanceMfaCounter stores counter if it is newer than the last accepted one.
func (r *PostgresRepository) AdvanceMfaCounter(ctx context.Context, id string, counter int64, now time.Time) (bool, error) {
	query := `UPDATE accounts SET mfa_last_counter = $2, updated_at = $3 WHERE id = $1 AND mfa_last_counter < $2`
	res, err := r.db.ExecContext(ctx, query, id, counter, now)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

// SetRecoveryCodesRemaining fails with common.ErrConflict unless MFA is
// enabled.
func (r *PostgresRepository) SetRecoveryCodesRemaining(ctx context.Context, id string, n int, now time.Time) error {
	query := `UPDATE accounts SET recovery_codes_remaining = $2, updated_at = $3 WHERE id = $1 AND mfa_enabled`
	return r.execOne(ctx, common.ErrConflict, query, id, n, now)
}

// DecrementRecoveryCodes fails with common.ErrConflict at zero.
func (r *PostgresRepository) DecrementRecoveryCodes(ctx context.Context, id string, now time.Time) error {
	query := `UPDATE accounts
SET recovery_codes_remaining = recovery_codes_remaining - 1, updated_at = $2
WHERE id = $1 AND recovery_codes_remaining > 0`
	return r.execOne(ctx, common.ErrConflict, query, id, now)
}

// execOne runs a single-row update and returns missErr when no row matched.
func (r *PostgresRepository) execOne(ctx context.Context, missErr error, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return missErr
	}
	return nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
