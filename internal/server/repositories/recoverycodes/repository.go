// Package recoverycodes stores hashed single-use MFA recovery codes.
package recoverycodes

import (
	"context"
	"time"
)

// Repository holds recovery code hashes.
type Repository interface {
	CreateBatch(ctx context.Context, accountID string, hashes []string, now time.Time) error
	// Consume marks an unused code as used and reports whether it did.
	Consume(ctx context.Context, accountID, hash string, now time.Time) (bool, error)
	DeleteAll(ctx context.Context, accountID string) (int64, error)
	CountUnused(ctx context.Context, accountID string) (int, error)
}
