package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/keeperauth/internal/dbx"
	"github.com/dmitrijs2005/keeperauth/internal/logging"
	"github.com/dmitrijs2005/keeperauth/internal/server/auth"
	"github.com/dmitrijs2005/keeperauth/internal/server/models"
	"github.com/dmitrijs2005/keeperauth/internal/server/repositories/repomanager"
)

// RevocationCache is an optional positive cache in front of the ledger table.
type RevocationCache interface {
	MarkRevoked(ctx context.Context, tokenID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// RevocationLedger records bearer token ids that must be rejected before
// their natural expiry.
type RevocationLedger struct {
	runner dbx.TxRunner
	repos  repomanager.RepositoryManager
	cache  RevocationCache
	logger logging.Logger
	now    func() time.Time
}

// NewRevocationLedger builds a ledger. cache may be nil.
func NewRevocationLedger(runner dbx.TxRunner, repos repomanager.RepositoryManager, cache RevocationCache, logger logging.Logger) *RevocationLedger {
	return &RevocationLedger{runner: runner, repos: repos, cache: cache, logger: logger, now: time.Now}
}

// IsRevoked asks the cache first and falls back to the ledger table.
// Cache errors are logged and ignored.
func (l *RevocationLedger) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	if l.cache != nil {
		hit, err := l.cache.IsRevoked(ctx, tokenID)
		if err != nil {
			l.logger.Warn(ctx, "revocation cache lookup failed", "error", err)
		} else if hit {
			return true, nil
		}
	}

	ok, err := l.repos.RevokedTokens(l.runner.DB()).Exists(ctx, tokenID, l.now().UTC())
	if err != nil {
		return false, fmt.Errorf("revocation lookup: %w", err)
	}
	return ok, nil
}

// Revoke adds the token id to the ledger. Revoking an id twice is a no-op.
func (l *RevocationLedger) Revoke(ctx context.Context, claims *auth.Claims, reason string) error {
	now := l.now().UTC()
	exp := claims.ExpiresAtTime()
	e := &models.RevokedToken{
		TokenID:   claims.ID,
		AccountID: claims.AccountID,
		ExpiresAt: exp,
		Reason:    reason,
		CreatedAt: now,
	}
	if _, err := l.repos.RevokedTokens(l.runner.DB()).Add(ctx, e); err != nil {
		return fmt.Errorf("add revoked token: %w", err)
	}

	if l.cache != nil {
		if err := l.cache.MarkRevoked(ctx, claims.ID, exp.Sub(now)); err != nil {
			l.logger.Warn(ctx, "revocation cache update failed", "error", err)
		}
	}
	return nil
}

// SweepResult counts the rows removed by one sweep.
type SweepResult struct {
	RevokedTokens int64
	RefreshTokens int64
}

// Sweep deletes ledger entries and refresh tokens whose expiry has passed.
func (l *RevocationLedger) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := l.now().UTC()

	n, err := l.repos.RevokedTokens(l.runner.DB()).DeleteExpired(ctx, now)
	if err != nil {
		return res, fmt.Errorf("sweep revoked tokens: %w", err)
	}
	res.RevokedTokens = n

	n, err = l.repos.RefreshTokens(l.runner.DB()).DeleteExpired(ctx, now)
	if err != nil {
		return res, fmt.Errorf("sweep refresh tokens: %w", err)
	}
	res.RefreshTokens = n
	return res, nil
}

// Sweeper runs Sweep once on start and then on every tick.
type Sweeper struct {
	ledger   *RevocationLedger
	interval time.Duration
	logger   logging.Logger
}

// NewSweeper returns a Sweeper that calls ledger.Sweep every interval.
func NewSweeper(ledger *RevocationLedger, interval time.Duration, logger logging.Logger) *Sweeper {
	return &Sweeper{ledger: ledger, interval: interval, logger: logger}
}

// Run blocks until ctx is cancelled. Sweep failures are logged and retried on
// the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	s.sweepOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	res, err := s.ledger.Sweep(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error(ctx, "sweep failed", "error", err)
		}
		return
	}
	s.logger.Debug(ctx, "sweep done", "revoked_tokens", res.RevokedTokens, "refresh_tokens", res.RefreshTokens)
}
