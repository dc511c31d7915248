package services

import (
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"image/png"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/dmitrijs2005/keeperauth/internal/common"
	"github.com/dmitrijs2005/keeperauth/internal/cryptox"
	"github.com/dmitrijs2005/keeperauth/internal/dbx"
	"github.com/dmitrijs2005/keeperauth/internal/logging"
	"github.com/dmitrijs2005/keeperauth/internal/server/config"
	"github.com/dmitrijs2005/keeperauth/internal/server/models"
	"github.com/dmitrijs2005/keeperauth/internal/server/repositories/repomanager"
)

const (
	totpPeriod     = 30
	totpSkew       = 1
	totpSecretSize = 20
	totpDigits     = otp.DigitsSix
	totpAlgorithm  = otp.AlgorithmSHA1
	qrCodeSize     = 256

	// pendingEnrollmentTTL bounds the time between BeginEnrollment and
	// ConfirmEnrollment.
	pendingEnrollmentTTL = 10 * time.Minute
)

// MfaResultKind tags the outcome of a second-factor check.
type MfaResultKind int

const (
	MfaInvalid MfaResultKind = iota
	MfaTotp
	MfaRecovery
)

func (k MfaResultKind) String() string {
	switch k {
	case MfaTotp:
		return "totp"
	case MfaRecovery:
		return "recovery"
	default:
		return "invalid"
	}
}

// MfaResult is the outcome of MfaService.Verify. Counter is set for TOTP
// matches, RemainingCodes for recovery matches.
type MfaResult struct {
	Kind           MfaResultKind
	Counter        int64
	RemainingCodes int
}

func (r MfaResult) Valid() bool { return r.Kind != MfaInvalid }

// Enrollment is what a user needs to add the account to an authenticator app.
type Enrollment struct {
	Secret          string
	ManualEntry     string
	ProvisioningURI string
	QRCodePNG       []byte
}

var errRecoveryCodeRejected = errors.New("recovery code rejected")

// MfaService drives the TOTP enrollment state machine and checks second
// factors. TOTP secrets are sealed with the server MFA key at rest.
type MfaService struct {
	runner        dbx.TxRunner
	repos         repomanager.RepositoryManager
	creds         *CredentialService
	logger        logging.Logger
	key           []byte
	issuer        string
	recoveryCount int
	maxFailed     int
	now           func() time.Time
}

// NewMfaService decodes the MFA sealing key from cfg.
func NewMfaService(runner dbx.TxRunner, repos repomanager.RepositoryManager, creds *CredentialService, cfg *config.Config, logger logging.Logger) (*MfaService, error) {
	key, err := cfg.MfaKey()
	if err != nil {
		return nil, err
	}
	return &MfaService{
		runner:        runner,
		repos:         repos,
		creds:         creds,
		logger:        logger,
		key:           key,
		issuer:        cfg.TOTPIssuer,
		recoveryCount: cfg.RecoveryCodeCount,
		maxFailed:     cfg.MaxFailedLogins,
		now:           time.Now,
	}, nil
}

func (s *MfaService) account(ctx context.Context, accountID string) (*models.Account, error) {
	return s.creds.GetAccount(ctx, accountID)
}

// BeginEnrollment generates a fresh pending secret. Calling it again before
// confirmation replaces the pending secret.
func (s *MfaService) BeginEnrollment(ctx context.Context, accountID string) (*Enrollment, error) {
	a, err := s.account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if a.MfaEnabled {
		return nil, common.ErrMfaAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: a.Email,
		Period:      totpPeriod,
		SecretSize:  totpSecretSize,
		Digits:      totpDigits,
		Algorithm:   totpAlgorithm,
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}

	sealed, err := cryptox.SealBytes(s.key, []byte(key.Secret()))
	if err != nil {
		return nil, fmt.Errorf("seal totp secret: %w", err)
	}
	if err := s.repos.Accounts(s.runner.DB()).SetPendingMfaSecret(ctx, a.ID, sealed, s.now().UTC()); err != nil {
		return nil, fmt.Errorf("store pending secret: %w", err)
	}

	img, err := key.Image(qrCodeSize, qrCodeSize)
	if err != nil {
		return nil, fmt.Errorf("qr code: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("qr code: %w", err)
	}

	return &Enrollment{
		Secret:          key.Secret(),
		ManualEntry:     ManualEntry(key.Secret()),
		ProvisioningURI: key.URL(),
		QRCodePNG:       buf.Bytes(),
	}, nil
}

// ManualEntry groups a base32 secret in blocks of four for typing.
func ManualEntry(secret string) string {
	var parts []string
	for len(secret) > 4 {
		parts = append(parts, secret[:4])
		secret = secret[4:]
	}
	return strings.Join(append(parts, secret), " ")
}

// ConfirmEnrollment checks code against the pending secret, enables MFA and
// returns a fresh batch of recovery codes. The codes are not retrievable
// afterwards. A pending secret older than ten minutes counts as absent.
func (s *MfaService) ConfirmEnrollment(ctx context.Context, accountID, code string) ([]string, error) {
	a, err := s.account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if a.MfaEnabled {
		return nil, common.ErrMfaAlreadyEnabled
	}
	now := s.now().UTC()
	if len(a.MfaPendingSecret) == 0 || a.MfaPendingAt == nil || now.Sub(*a.MfaPendingAt) > pendingEnrollmentTTL {
		return nil, common.ErrMfaEnrollmentNotStarted
	}

	secret, err := cryptox.OpenBytes(s.key, a.MfaPendingSecret)
	if err != nil {
		return nil, fmt.Errorf("open pending secret: %w", err)
	}
	counter, ok := matchTOTP(string(secret), code, now)
	if !ok {
		return nil, common.ErrInvalidMfaCode
	}

	codes, hashes, err := generateRecoveryCodes(a.ID, s.recoveryCount)
	if err != nil {
		return nil, err
	}

	err = s.runner.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repos.Accounts(tx).EnableMfa(ctx, a.ID, a.MfaPendingSecret, counter, len(codes), now); err != nil {
			if errors.Is(err, common.ErrConflict) {
				return common.ErrMfaAlreadyEnabled
			}
			return fmt.Errorf("enable mfa: %w", err)
		}
		return s.replaceRecoveryCodes(ctx, tx, a.ID, hashes, now)
	})
	if err != nil {
		return nil, err
	}
	return codes, nil
}

func (s *MfaService) replaceRecoveryCodes(ctx context.Context, tx dbx.DBTX, accountID string, hashes []string, now time.Time) error {
	repo := s.repos.RecoveryCodes(tx)
	if _, err := repo.DeleteAll(ctx, accountID); err != nil {
		return fmt.Errorf("delete recovery codes: %w", err)
	}
	if err := repo.CreateBatch(ctx, accountID, hashes, now); err != nil {
		return fmt.Errorf("create recovery codes: %w", err)
	}
	return nil
}

// Verify checks a second factor: TOTP first, then recovery codes. A TOTP
// code is accepted once; a replay inside its window is invalid.
func (s *MfaService) Verify(ctx context.Context, accountID, code string) (MfaResult, error) {
	a, err := s.account(ctx, accountID)
	if err != nil {
		return MfaResult{}, err
	}
	return s.verify(ctx, a, code)
}

func (s *MfaService) verify(ctx context.Context, a *models.Account, code string) (MfaResult, error) {
	if !a.MfaEnabled {
		return MfaResult{}, common.ErrMfaNotEnabled
	}
	now := s.now().UTC()

	secret, err := cryptox.OpenBytes(s.key, a.MfaSecret)
	if err != nil {
		return MfaResult{}, fmt.Errorf("open mfa secret: %w", err)
	}
	if counter, ok := matchTOTP(string(secret), code, now); ok {
		advanced, err := s.repos.Accounts(s.runner.DB()).AdvanceMfaCounter(ctx, a.ID, counter, now)
		if err != nil {
			return MfaResult{}, fmt.Errorf("advance totp counter: %w", err)
		}
		if !advanced {
			return MfaResult{Kind: MfaInvalid}, nil
		}
		return MfaResult{Kind: MfaTotp, Counter: counter}, nil
	}

	canonical := CanonicalRecoveryCode(code)
	if len(canonical) != recoveryCodeLen {
		return MfaResult{Kind: MfaInvalid}, nil
	}
	hash := recoveryCodeHash(a.ID, canonical)

	err = s.runner.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		used, err := s.repos.RecoveryCodes(tx).Consume(ctx, a.ID, hash, now)
		if err != nil {
			return fmt.Errorf("consume recovery code: %w", err)
		}
		if !used {
			return errRecoveryCodeRejected
		}
		if err := s.repos.Accounts(tx).DecrementRecoveryCodes(ctx, a.ID, now); err != nil {
			return fmt.Errorf("decrement recovery codes: %w", err)
		}
		return nil
	})
	if errors.Is(err, errRecoveryCodeRejected) {
		return MfaResult{Kind: MfaInvalid}, nil
	}
	if err != nil {
		return MfaResult{}, err
	}
	return MfaResult{Kind: MfaRecovery, RemainingCodes: max(a.RecoveryCodesRemaining-1, 0)}, nil
}

// RecordFailure counts a failed second factor and reports whether the
// account is now locked.
func (s *MfaService) RecordFailure(ctx context.Context, accountID string) (bool, error) {
	_, locked, err := s.repos.Accounts(s.runner.DB()).RecordMfaFailure(ctx, accountID, s.maxFailed, s.now().UTC())
	if err != nil {
		return false, fmt.Errorf("record mfa failure: %w", err)
	}
	return locked, nil
}

// ResetFailures clears the second-factor failure counter.
func (s *MfaService) ResetFailures(ctx context.Context, accountID string) error {
	if err := s.repos.Accounts(s.runner.DB()).ResetMfaFailures(ctx, accountID, s.now().UTC()); err != nil {
		return fmt.Errorf("reset mfa failures: %w", err)
	}
	return nil
}

// Disable turns MFA off. It needs both the current proof and a valid second
// factor; a bearer token alone is not enough.
func (s *MfaService) Disable(ctx context.Context, accountID, proof, code string) error {
	a, err := s.creds.VerifyAccount(ctx, accountID, proof)
	if err != nil {
		return err
	}
	if !a.MfaEnabled {
		return common.ErrMfaNotEnabled
	}

	res, err := s.verify(ctx, a, code)
	if err != nil {
		return err
	}
	if !res.Valid() {
		if _, err := s.RecordFailure(ctx, a.ID); err != nil {
			return err
		}
		return common.ErrInvalidMfaCode
	}

	now := s.now().UTC()
	return s.runner.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repos.Accounts(tx).DisableMfa(ctx, a.ID, now); err != nil {
			if errors.Is(err, common.ErrConflict) {
				return common.ErrMfaNotEnabled
			}
			return fmt.Errorf("disable mfa: %w", err)
		}
		if _, err := s.repos.RecoveryCodes(tx).DeleteAll(ctx, a.ID); err != nil {
			return fmt.Errorf("delete recovery codes: %w", err)
		}
		return nil
	})
}

// RegenerateRecoveryCodes replaces the whole recovery batch.
func (s *MfaService) RegenerateRecoveryCodes(ctx context.Context, accountID string) ([]string, error) {
	a, err := s.account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !a.MfaEnabled {
		return nil, common.ErrMfaNotEnabled
	}

	codes, hashes, err := generateRecoveryCodes(a.ID, s.recoveryCount)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	err = s.runner.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repos.Accounts(tx).SetRecoveryCodesRemaining(ctx, a.ID, len(codes), now); err != nil {
			if errors.Is(err, common.ErrConflict) {
				// disabled since the check above
				return common.ErrMfaNotEnabled
			}
			return fmt.Errorf("set recovery count: %w", err)
		}
		return s.replaceRecoveryCodes(ctx, tx, a.ID, hashes, now)
	})
	if err != nil {
		return nil, err
	}
	return codes, nil
}

// matchTOTP checks code against the steps around now and returns the
// matching time-step counter.
func matchTOTP(secret, code string, now time.Time) (int64, bool) {
	code = strings.TrimSpace(code)
	if len(code) != int(totpDigits) {
		return 0, false
	}
	opts := totp.ValidateOpts{Period: totpPeriod, Digits: totpDigits, Algorithm: totpAlgorithm}

	base := now.Unix() / totpPeriod
	for step := int64(-totpSkew); step <= totpSkew; step++ {
		counter := base + step
		if counter < 0 {
			continue
		}
		want, err := totp.GenerateCodeCustom(secret, time.Unix(counter*totpPeriod, 0), opts)
		if err != nil {
			return 0, false
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 {
			return counter, true
		}
	}
	return 0, false
}
