package recoverycodes

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/keeperauth/internal/dbx"
	"github.com/google/uuid"
)

// PostgresRepository stores hashed recovery codes.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository returns a repository bound to db.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateBatch inserts one row per hash. Callers run it inside the same
// transaction that updates the account's remaining-code count.
func (r *PostgresRepository) CreateBatch(ctx context.Context, accountID string, hashes []string, now time.Time) error {
	query := `INSERT INTO recovery_codes (id, account_id, code_hash, created_at) VALUES ($1, $2, $3, $4)`

	for _, h := range hashes {
		if _, err := r.db.ExecContext(ctx, query, uuid.NewString(), accountID, h, now); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
	}
	return nil
}

// Consume marks an unused code as used and reports whether one matched.
func (r *PostgresRepository) Consume(ctx context.Context, accountID, hash string, now time.Time) (bool, error) {
	query := `UPDATE recovery_codes SET used = TRUE, used_at = $3
WHERE account_id = $1 AND code_hash = $2 AND NOT used`

	res, err := r.db.ExecContext(ctx, query, accountID, hash, now)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

// DeleteAll removes every code of the account.
func (r *PostgresRepository) DeleteAll(ctx context.Context, accountID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM recovery_codes WHERE account_id = $1`, accountID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

// CountUnused counts codes still available to the account.
func (r *PostgresRepository) CountUnused(ctx context.Context, accountID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recovery_codes WHERE account_id = $1 AND NOT used`, accountID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
