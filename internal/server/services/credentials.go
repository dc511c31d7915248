package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/dmitrijs2005/keeperauth/internal/common"
	"github.com/dmitrijs2005/keeperauth/internal/cryptox"
	"github.com/dmitrijs2005/keeperauth/internal/dbx"
	"github.com/dmitrijs2005/keeperauth/internal/logging"
	"github.com/dmitrijs2005/keeperauth/internal/server/config"
	"github.com/dmitrijs2005/keeperauth/internal/server/models"
	"github.com/dmitrijs2005/keeperauth/internal/server/repositories/repomanager"
)

// maxProofLen is the bcrypt input limit.
const maxProofLen = 72

// CredentialService stores and verifies authentication proofs and keeps the
// lockout counters.
type CredentialService struct {
	runner       dbx.TxRunner
	repos        repomanager.RepositoryManager
	logger       logging.Logger
	maxFailed    int
	bcryptCost   int
	defaultLevel cryptox.SecurityLevel
	dummyHash    []byte
	now          func() time.Time
}

// NewCredentialService builds the service and precomputes the dummy hash
// compared against for unknown emails.
func NewCredentialService(runner dbx.TxRunner, repos repomanager.RepositoryManager, cfg *config.Config, logger logging.Logger) (*CredentialService, error) {
	dummy, err := bcrypt.GenerateFromPassword(common.GenerateRandByteArray(32), cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("dummy hash: %w", err)
	}
	return &CredentialService{
		runner:       runner,
		repos:        repos,
		logger:       logger,
		maxFailed:    cfg.MaxFailedLogins,
		bcryptCost:   cfg.BcryptCost,
		defaultLevel: cryptox.SecurityLevel(cfg.DefaultSecurityLevel),
		dummyHash:    dummy,
		now:          time.Now,
	}, nil
}

func validateProof(proof string) error {
	if proof == "" || len(proof) > maxProofLen {
		return fmt.Errorf("%w: auth proof", common.ErrValidation)
	}
	return nil
}

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("%w: email is required", common.ErrValidation)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return fmt.Errorf("%w: email: %v", common.ErrValidation, err)
	}
	if addr.Address != email {
		return fmt.Errorf("%w: email must be a bare address", common.ErrValidation)
	}
	return nil
}

// Register creates an account for email. A zero level selects the default.
func (s *CredentialService) Register(ctx context.Context, email, proof string, level cryptox.SecurityLevel) (*models.Account, error) {
	email = cryptox.NormalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validateProof(proof); err != nil {
		return nil, err
	}
	if level == 0 {
		level = s.defaultLevel
	}
	if !level.Valid() {
		return nil, fmt.Errorf("%w: %v", common.ErrValidation, cryptox.ErrUnknownSecurityLevel)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(proof), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash proof: %w", err)
	}

	now := s.now().UTC()
	a := &models.Account{
		ID:            uuid.NewString(),
		Email:         email,
		ProofHash:     string(hash),
		SecurityLevel: int(level),
		Role:          common.RoleUser,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repos.Accounts(s.runner.DB()).Create(ctx, a); err != nil {
		if errors.Is(err, common.ErrConflict) {
			return nil, common.ErrConflict
		}
		return nil, fmt.Errorf("create account: %w", err)
	}
	return a, nil
}

// Verify checks proof for email. Unknown emails cost the same bcrypt compare
// as known ones and fail the same way.
func (s *CredentialService) Verify(ctx context.Context, email, proof string) (*models.Account, error) {
	a, err := s.repos.Accounts(s.runner.DB()).GetByEmail(ctx, cryptox.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(proof))
			return nil, common.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	if err := s.check(ctx, a, proof); err != nil {
		return nil, err
	}
	return a, nil
}

// VerifyAccount re-checks the proof of an authenticated account, with the
// same lockout accounting as Verify.
func (s *CredentialService) VerifyAccount(ctx context.Context, accountID, proof string) (*models.Account, error) {
	a, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if err := s.check(ctx, a, proof); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *CredentialService) check(ctx context.Context, a *models.Account, proof string) error {
	if a.Locked {
		return common.ErrAccountLocked
	}

	repo := s.repos.Accounts(s.runner.DB())
	now := s.now().UTC()

	if bcrypt.CompareHashAndPassword([]byte(a.ProofHash), []byte(proof)) != nil {
		n, locked, err := repo.RecordLoginFailure(ctx, a.ID, s.maxFailed, now)
		if err != nil {
			return fmt.Errorf("record failure: %w", err)
		}
		if locked {
			s.logger.Warn(ctx, "account locked", "account_id", a.ID, "failed_attempts", n)
		}
		return common.ErrInvalidCredentials
	}

	if err := repo.RecordLoginSuccess(ctx, a.ID, now); err != nil {
		return fmt.Errorf("record success: %w", err)
	}
	a.FailedAttempts = 0
	a.LastActivityAt = &now
	return nil
}

// ChangeProof replaces the stored proof and revokes every refresh token of
// the account in the same transaction. A zero level keeps the current one.
func (s *CredentialService) ChangeProof(ctx context.Context, accountID, oldProof, newProof string, level cryptox.SecurityLevel) error {
	if err := validateProof(newProof); err != nil {
		return err
	}
	a, err := s.VerifyAccount(ctx, accountID, oldProof)
	if err != nil {
		return err
	}
	if level == 0 {
		level = cryptox.SecurityLevel(a.SecurityLevel)
	}
	if !level.Valid() {
		return fmt.Errorf("%w: %v", common.ErrValidation, cryptox.ErrUnknownSecurityLevel)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newProof), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash proof: %w", err)
	}

	now := s.now().UTC()
	return s.runner.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		err := s.repos.Accounts(tx).ReplaceProof(ctx, a.ID, a.ProofHash, string(hash), int(level), now)
		if err != nil {
			if errors.Is(err, common.ErrConflict) {
				// changed concurrently; the old proof is no longer current
				return common.ErrInvalidCredentials
			}
			return fmt.Errorf("replace proof: %w", err)
		}
		if _, err := s.repos.RefreshTokens(tx).RevokeAllForAccount(ctx, a.ID, models.RevokeReasonPasswordChange, now); err != nil {
			return fmt.Errorf("revoke refresh tokens: %w", err)
		}
		return nil
	})
}

// Unlock clears the lock and both failure counters.
func (s *CredentialService) Unlock(ctx context.Context, accountID string) error {
	if err := s.repos.Accounts(s.runner.DB()).Unlock(ctx, accountID, s.now().UTC()); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrorNotFound
		}
		return fmt.Errorf("unlock: %w", err)
	}
	return nil
}

// Prelogin returns the KDF level the client must replay for email. Unknown
// emails, and lookup failures, get the configured default.
func (s *CredentialService) Prelogin(ctx context.Context, email string) cryptox.SecurityLevel {
	a, err := s.repos.Accounts(s.runner.DB()).GetByEmail(ctx, cryptox.NormalizeEmail(email))
	if err != nil {
		if !errors.Is(err, common.ErrorNotFound) {
			s.logger.Error(ctx, "prelogin lookup failed", "error", err)
		}
		return s.defaultLevel
	}
	return cryptox.SecurityLevel(a.SecurityLevel)
}

// GetAccount loads an account by id. A missing account is
// common.ErrorNotFound.
func (s *CredentialService) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	a, err := s.repos.Accounts(s.runner.DB()).GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// GetAccountByEmail normalizes email before the lookup.
func (s *CredentialService) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	a, err := s.repos.Accounts(s.runner.DB()).GetByEmail(ctx, cryptox.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}
