// Package refreshtokens stores hashed refresh tokens and their rotation chain.
package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/keeperauth/internal/server/models"
)

// Repository stores refresh tokens by hash.
type Repository interface {
	Create(ctx context.Context, t *models.RefreshToken) error
	FindByHash(ctx context.Context, hash string) (*models.RefreshToken, error)

	// Consume atomically marks the active token with the given hash as
	// rotated and links it to successorID. It returns common.ErrorNotFound
	// when no active token matched, so at most one caller can win.
	Consume(ctx context.Context, hash, successorID string, now time.Time) (*models.RefreshToken, error)

	// Revoke revokes one active token and reports whether anything changed.
	Revoke(ctx context.Context, hash, reason string, now time.Time) (bool, error)
	RevokeAllForAccount(ctx context.Context, accountID, reason string, now time.Time) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
