package revokedtokens

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/keeperauth/internal/dbx"
	"github.com/dmitrijs2005/keeperauth/internal/server/models"
)

// PostgresRepository stores the bearer revocation ledger.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository returns a repository bound to db.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Add inserts e and reports whether it was new.
func (r *PostgresRepository) Add(ctx context.Context, e *models.RevokedToken) (bool, error) {
	query := `INSERT INTO revoked_tokens (token_id, account_id, expires_at, reason, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (token_id) DO NOTHING`

	res, err := r.db.ExecContext(ctx, query, e.TokenID, e.AccountID, e.ExpiresAt, e.Reason, e.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

// Exists reports whether tokenID is revoked and not yet expired.
func (r *PostgresRepository) Exists(ctx context.Context, tokenID string, now time.Time) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM revoked_tokens WHERE token_id = $1 AND expires_at > $2)`

	var found bool
	if err := r.db.QueryRowContext(ctx, query, tokenID, now).Scan(&found); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return found, nil
}

// DeleteExpired removes entries with expires_at <= now.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM revoked_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
