// Package revokedtokens stores the bearer-token revocation ledger.
package revokedtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/keeperauth/internal/server/models"
)

// Repository is the revoked bearer ledger.
type Repository interface {
	// Add inserts e unless its token id is already present, and reports
	// whether a row was written.
	Add(ctx context.Context, e *models.RevokedToken) (bool, error)
	Exists(ctx context.Context, tokenID string, now time.Time) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
