package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/keeperauth/internal/common"
	"github.com/dmitrijs2005/keeperauth/internal/dbx"
	"github.com/dmitrijs2005/keeperauth/internal/server/auth"
	"github.com/dmitrijs2005/keeperauth/internal/server/config"
	"github.com/dmitrijs2005/keeperauth/internal/server/models"
	"github.com/dmitrijs2005/keeperauth/internal/server/repositories/repomanager"
)

const refreshTokenBytes = 32

// TokenPair bundles a short-lived bearer token and a long-lived refresh
// token, with the account they were issued for.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	Claims           *auth.Claims
	Account          *models.Account
}

// ReuseError reports that an already rotated refresh token was presented
// again. It matches common.ErrInvalidToken.
type ReuseError struct {
	AccountID string
}

func (e *ReuseError) Error() string { return "refresh token reuse detected" }

func (e *ReuseError) Unwrap() error { return common.ErrInvalidToken }

// HashRefreshToken is the lookup key stored instead of the token value.
func HashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// TokenService issues, rotates and revokes refresh tokens.
type TokenService struct {
	runner     dbx.TxRunner
	repos      repomanager.RepositoryManager
	issuer     *auth.Issuer
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenService returns a TokenService minting bearers with issuer and
// refresh tokens valid for cfg.RefreshTokenValidityDuration.
func NewTokenService(runner dbx.TxRunner, repos repomanager.RepositoryManager, issuer *auth.Issuer, cfg *config.Config) *TokenService {
	return &TokenService{
		runner:     runner,
		repos:      repos,
		issuer:     issuer,
		refreshTTL: cfg.RefreshTokenValidityDuration,
		now:        time.Now,
	}
}

// IssuePair mints a new bearer token and starts a new refresh chain.
func (s *TokenService) IssuePair(ctx context.Context, a *models.Account) (*TokenPair, error) {
	return s.issue(ctx, s.runner.DB(), a, uuid.NewString(), s.now().UTC())
}

func (s *TokenService) issue(ctx context.Context, db dbx.DBTX, a *models.Account, refreshID string, now time.Time) (*TokenPair, error) {
	access, claims, err := s.issuer.Generate(a.ID, a.Email, a.Roles())
	if err != nil {
		return nil, err
	}
	refresh, err := common.MakeRandHexString(refreshTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}

	rt := &models.RefreshToken{
		ID:        refreshID,
		AccountID: a.ID,
		TokenHash: HashRefreshToken(refresh),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.refreshTTL),
	}
	if err := s.repos.RefreshTokens(db).Create(ctx, rt); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  claims.ExpiresAtTime(),
		RefreshToken:     refresh,
		RefreshExpiresAt: rt.ExpiresAt,
		Claims:           claims,
		Account:          a,
	}, nil
}

// Rotate redeems an active refresh token exactly once and returns its
// successor pair. Unknown, expired and revoked tokens fail with
// common.ErrInvalidToken; a token that was already rotated fails with a
// *ReuseError.
func (s *TokenService) Rotate(ctx context.Context, token string) (*TokenPair, error) {
	if token == "" {
		return nil, common.ErrInvalidToken
	}
	hash := HashRefreshToken(token)
	successorID := uuid.NewString()
	now := s.now().UTC()

	var pair *TokenPair
	err := s.runner.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repos.RefreshTokens(tx)

		prev, err := repo.Consume(ctx, hash, successorID, now)
		if err != nil {
			if !errors.Is(err, common.ErrorNotFound) {
				return fmt.Errorf("consume refresh token: %w", err)
			}
			stored, ferr := repo.FindByHash(ctx, hash)
			if ferr == nil && stored.Revoked && stored.RevokeReason == models.RevokeReasonRotated {
				return &ReuseError{AccountID: stored.AccountID}
			}
			return common.ErrInvalidToken
		}

		a, err := s.repos.Accounts(tx).GetByID(ctx, prev.AccountID)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrInvalidToken
			}
			return fmt.Errorf("get account: %w", err)
		}
		if a.Locked {
			return common.ErrInvalidToken
		}

		pair, err = s.issue(ctx, tx, a, successorID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pair, nil
}

// Revoke revokes one refresh token. Unknown or inactive tokens are ignored.
func (s *TokenService) Revoke(ctx context.Context, token, reason string) error {
	if token == "" {
		return nil
	}
	if _, err := s.repos.RefreshTokens(s.runner.DB()).Revoke(ctx, HashRefreshToken(token), reason, s.now().UTC()); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAll revokes every active refresh token of the account.
func (s *TokenService) RevokeAll(ctx context.Context, accountID, reason string) (int64, error) {
	n, err := s.repos.RefreshTokens(s.runner.DB()).RevokeAllForAccount(ctx, accountID, reason, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("revoke refresh tokens: %w", err)
	}
	return n, nil
}
