package refreshtokens

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

// PostgresRepository implements Repository over dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository returns a repository bound to db.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts t. Only the token hash is stored.
func (r *PostgresRepository) Create(ctx context.Context, t *models.RefreshToken) error {
	query := `INSERT INTO refresh_tokens (id, account_id, token_hash, issued_at, expires_at)
VALUES ($1, $2, $3, $4, $5)`

	if _, err := r.db.ExecContext(ctx, query, t.ID, t.AccountID, t.TokenHash, t.IssuedAt, t.ExpiresAt); err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrConflict
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// FindByHash returns common.ErrorNotFound for unknown hashes.
func (r *PostgresRepository) FindByHash(ctx context.Context, hash string) (*models.RefreshToken, error) {
	query := `SELECT id, account_id, token_hash, issued_at, expires_at, revoked, revoked_at, revoke_reason, replaced_by
FROM refresh_tokens
WHERE token_hash = $1`

	var (
		t          models.RefreshToken
		revokedAt  sql.NullTime
		replacedBy sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, hash).Scan(
		&t.ID, &t.AccountID, &t.TokenHash, &t.IssuedAt, &t.ExpiresAt,
		&t.Revoked, &revokedAt, &t.RevokeReason, &replacedBy,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if revokedAt.Valid {
		t.RevokedAt = &revokedAt.Time
	}
	if replacedBy.Valid {
		t.ReplacedBy = &replacedBy.String
	}
	return &t, nil
}

// Consume revokes an active token as rotated and links it to successorID.
// Inactive or unknown tokens are common.ErrorNotFound.
func (r *PostgresRepository) Consume(ctx context.Context, hash, successorID string, now time.Time) (*models.RefreshToken, error) {
	query := `UPDATE refresh_tokens
SET revoked = TRUE, revoked_at = $3, revoke_reason = 'rotated', replaced_by = $2
WHERE token_hash = $1 AND NOT revoked AND expires_at > $3
RETURNING id, account_id, issued_at, expires_at`

	t := models.RefreshToken{TokenHash: hash}
	err := r.db.QueryRowContext(ctx, query, hash, successorID, now).Scan(&t.ID, &t.AccountID, &t.IssuedAt, &t.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	t.Revoked = true
	t.RevokedAt = &now
	t.RevokeReason = models.RevokeReasonRotated
	t.ReplacedBy = &successorID
	return &t, nil
}

// Revoke revokes one token not yet revoked and reports whether it changed.
func (r *PostgresRepository) Revoke(ctx context.Context, hash, reason string, now time.Time) (bool, error) {
	query := `UPDATE refresh_tokens
SET revoked = TRUE, revoked_at = $3, revoke_reason = $2
WHERE token_hash = $1 AND NOT revoked`

	n, err := r.exec(ctx, query, hash, reason, now)
	return n > 0, err
}

// RevokeAllForAccount revokes every unrevoked token of the account.
func (r *PostgresRepository) RevokeAllForAccount(ctx context.Context, accountID, reason string, now time.Time) (int64, error) {
	query := `UPDATE refresh_tokens
SET revoked = TRUE, revoked_at = $3, revoke_reason = $2
WHERE account_id = $1 AND NOT revoked`

	return r.exec(ctx, query, accountID, reason, now)
}

// DeleteExpired removes tokens with expires_at <= now.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return r.exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1`, now)
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
