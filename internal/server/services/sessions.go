package services

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/dmitrijs2005/keeperauth/internal/common"
	"github.com/dmitrijs2005/keeperauth/internal/cryptox"
	"github.com/dmitrijs2005/keeperauth/internal/logging"
	"github.com/dmitrijs2005/keeperauth/internal/server/auth"
	"github.com/dmitrijs2005/keeperauth/internal/server/config"
	"github.com/dmitrijs2005/keeperauth/internal/server/events"
	"github.com/dmitrijs2005/keeperauth/internal/server/models"
)

// LoginStatus tells a completed login from one waiting for a second factor.
type LoginStatus int

const (
	LoginCompleted LoginStatus = iota + 1
	LoginMfaRequired
)

// LoginResult carries tokens only when Status is LoginCompleted.
type LoginResult struct {
	Status LoginStatus
	Tokens *TokenPair
}

// SessionService composes credentials, MFA, tokens and the revocation ledger
// into the user-facing session use cases. It returns only public errors.
type SessionService struct {
	creds            *CredentialService
	tokens           *TokenService
	ledger           *RevocationLedger
	mfa              *MfaService
	issuer           *auth.Issuer
	events           events.Publisher
	logger           logging.Logger
	revokeAllOnReuse bool
	now              func() time.Time
}

// NewSessionService composes the session flows from the other services.
func NewSessionService(
	creds *CredentialService,
	tokens *TokenService,
	ledger *RevocationLedger,
	mfa *MfaService,
	issuer *auth.Issuer,
	pub events.Publisher,
	cfg *config.Config,
	logger logging.Logger,
) *SessionService {
	return &SessionService{
		creds:            creds,
		tokens:           tokens,
		ledger:           ledger,
		mfa:              mfa,
		issuer:           issuer,
		events:           pub,
		logger:           logger,
		revokeAllOnReuse: cfg.RevokeAllOnRefreshReuse,
		now:              time.Now,
	}
}

func (s *SessionService) publish(ctx context.Context, typ, accountID string, attrs map[string]string) {
	e := events.Event{Type: typ, AccountID: accountID, At: s.now().UTC(), Attrs: attrs}
	if err := s.events.Publish(ctx, e); err != nil {
		s.logger.Warn(ctx, "publish event failed", "event", typ, "account_id", accountID, "error", err)
	}
}

func (s *SessionService) fail(ctx context.Context, op, accountID string, err error) error {
	return publicError(ctx, s.logger, op, accountID, err)
}

// Prelogin returns the KDF level the client must derive with.
func (s *SessionService) Prelogin(ctx context.Context, email string) cryptox.SecurityLevel {
	return s.creds.Prelogin(ctx, email)
}

// Register creates the account and signs it in.
func (s *SessionService) Register(ctx context.Context, email, proof string, level cryptox.SecurityLevel) (*TokenPair, error) {
	a, err := s.creds.Register(ctx, email, proof, level)
	if err != nil {
		return nil, s.fail(ctx, "register", "", err)
	}
	pair, err := s.tokens.IssuePair(ctx, a)
	if err != nil {
		return nil, s.fail(ctx, "register", a.ID, err)
	}
	s.publish(ctx, events.TypeRegistered, a.ID, nil)
	return pair, nil
}

// Login verifies the proof and, for MFA accounts, the second factor. Without
// a code an MFA account gets LoginMfaRequired and no tokens.
func (s *SessionService) Login(ctx context.Context, email, proof, mfaCode string) (*LoginResult, error) {
	a, err := s.creds.Verify(ctx, email, proof)
	if err != nil {
		switch {
		case errors.Is(err, common.ErrInvalidCredentials):
			s.publish(ctx, events.TypeLoginFailed, "", map[string]string{"email": cryptox.NormalizeEmail(email)})
		case errors.Is(err, common.ErrAccountLocked):
			s.publish(ctx, events.TypeAccountLocked, "", map[string]string{"email": cryptox.NormalizeEmail(email)})
		}
		return nil, s.fail(ctx, "login", "", err)
	}

	if a.MfaEnabled {
		if mfaCode == "" {
			return &LoginResult{Status: LoginMfaRequired}, nil
		}
		res, err := s.mfa.verify(ctx, a, mfaCode)
		if err != nil {
			return nil, s.fail(ctx, "login", a.ID, err)
		}
		if !res.Valid() {
			locked, err := s.mfa.RecordFailure(ctx, a.ID)
			if err != nil {
				return nil, s.fail(ctx, "login", a.ID, err)
			}
			s.publish(ctx, events.TypeLoginFailed, a.ID, map[string]string{"factor": "mfa"})
			if locked {
				s.publish(ctx, events.TypeAccountLocked, a.ID, map[string]string{"factor": "mfa"})
			}
			return nil, common.ErrInvalidMfaCode
		}
		if err := s.mfa.ResetFailures(ctx, a.ID); err != nil {
			return nil, s.fail(ctx, "login", a.ID, err)
		}
		if res.Kind == MfaRecovery {
			a.RecoveryCodesRemaining = res.RemainingCodes
			s.publish(ctx, events.TypeRecoveryCodeUsed, a.ID, nil)
		}
	}

	pair, err := s.tokens.IssuePair(ctx, a)
	if err != nil {
		return nil, s.fail(ctx, "login", a.ID, err)
	}
	s.publish(ctx, events.TypeLoginSucceeded, a.ID, nil)
	return &LoginResult{Status: LoginCompleted, Tokens: pair}, nil
}

// Refresh rotates the refresh token. Every failure is common.ErrInvalidToken.
// When presentedBearer is a bearer of the same account it is revoked too.
func (s *SessionService) Refresh(ctx context.Context, refreshToken, presentedBearer string) (*TokenPair, error) {
	pair, err := s.tokens.Rotate(ctx, refreshToken)
	if err != nil {
		var reuse *ReuseError
		switch {
		case errors.As(err, &reuse):
			s.handleReuse(ctx, reuse.AccountID)
		case !errors.Is(err, common.ErrInvalidToken):
			s.logger.Error(ctx, "internal error", "op", "refresh", "error", err)
		}
		return nil, common.ErrInvalidToken
	}

	if presentedBearer != "" {
		claims, err := s.issuer.ParseAllowExpired(presentedBearer)
		if err == nil && claims.AccountID == pair.Account.ID {
			if err := s.ledger.Revoke(ctx, claims, models.RevokeReasonRotated); err != nil {
				s.logger.Error(ctx, "revoke rotated bearer", "account_id", claims.AccountID, "error", err)
			}
		}
	}
	return pair, nil
}

func (s *SessionService) handleReuse(ctx context.Context, accountID string) {
	s.logger.Warn(ctx, "refresh token reuse detected", "account_id", accountID)
	attrs := map[string]string{"revoked_all": "false"}
	if s.revokeAllOnReuse {
		if _, err := s.tokens.RevokeAll(ctx, accountID, models.RevokeReasonReuseDetected); err != nil {
			s.logger.Error(ctx, "revoke after reuse", "account_id", accountID, "error", err)
		} else {
			attrs["revoked_all"] = "true"
		}
	}
	s.publish(ctx, events.TypeRefreshReuseDetected, accountID, attrs)
}

// Logout never fails. It revokes the given refresh token and puts the bearer
// on the ledger when its signature verifies, even if it has expired.
func (s *SessionService) Logout(ctx context.Context, bearer, refreshToken string) {
	if err := s.tokens.Revoke(ctx, refreshToken, models.RevokeReasonLogout); err != nil {
		s.logger.Error(ctx, "logout: revoke refresh token", "error", err)
	}
	if bearer == "" {
		return
	}
	claims, err := s.issuer.ParseAllowExpired(bearer)
	if err != nil {
		return
	}
	if err := s.ledger.Revoke(ctx, claims, models.RevokeReasonLogout); err != nil {
		s.logger.Error(ctx, "logout: revoke bearer", "account_id", claims.AccountID, "error", err)
	}
	s.publish(ctx, events.TypeLogout, claims.AccountID, nil)
}

// LogoutAll signs the account out everywhere, including the current bearer.
func (s *SessionService) LogoutAll(ctx context.Context, claims *auth.Claims) error {
	n, err := s.tokens.RevokeAll(ctx, claims.AccountID, models.RevokeReasonLogoutAll)
	if err != nil {
		return s.fail(ctx, "logout_all", claims.AccountID, err)
	}
	if err := s.ledger.Revoke(ctx, claims, models.RevokeReasonLogoutAll); err != nil {
		return s.fail(ctx, "logout_all", claims.AccountID, err)
	}
	s.publish(ctx, events.TypeLogoutAll, claims.AccountID, map[string]string{"refresh_tokens": strconv.FormatInt(n, 10)})
	return nil
}

// ChangePassword swaps the proof, revokes every refresh token and the
// current bearer.
func (s *SessionService) ChangePassword(ctx context.Context, claims *auth.Claims, oldProof, newProof string, level cryptox.SecurityLevel) error {
	if err := s.creds.ChangeProof(ctx, claims.AccountID, oldProof, newProof, level); err != nil {
		return s.fail(ctx, "change_password", claims.AccountID, err)
	}
	if err := s.ledger.Revoke(ctx, claims, models.RevokeReasonPasswordChange); err != nil {
		return s.fail(ctx, "change_password", claims.AccountID, err)
	}
	s.publish(ctx, events.TypePasswordChanged, claims.AccountID, nil)
	return nil
}

// Authenticate verifies a bearer token and checks the revocation ledger.
// Every failure is common.ErrorUnauthorized.
func (s *SessionService) Authenticate(ctx context.Context, bearer string) (*auth.Claims, error) {
	claims, err := s.issuer.Parse(bearer)
	if err != nil {
		return nil, common.ErrorUnauthorized
	}
	revoked, err := s.ledger.IsRevoked(ctx, claims.ID)
	if err != nil {
		s.logger.Error(ctx, "revocation check failed", "account_id", claims.AccountID, "error", err)
		return nil, common.ErrorUnauthorized
	}
	if revoked {
		return nil, common.ErrorUnauthorized
	}
	return claims, nil
}

// Me returns the account behind an authenticated bearer.
func (s *SessionService) Me(ctx context.Context, claims *auth.Claims) (*models.Account, error) {
	a, err := s.creds.GetAccount(ctx, claims.AccountID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, s.fail(ctx, "me", claims.AccountID, err)
	}
	return a, nil
}

// SetupMfa starts a TOTP enrollment for the caller.
func (s *SessionService) SetupMfa(ctx context.Context, claims *auth.Claims) (*Enrollment, error) {
	e, err := s.mfa.BeginEnrollment(ctx, claims.AccountID)
	if err != nil {
		return nil, s.fail(ctx, "mfa_setup", claims.AccountID, err)
	}
	return e, nil
}

// EnableMfa confirms the pending enrollment and returns the recovery codes.
func (s *SessionService) EnableMfa(ctx context.Context, claims *auth.Claims, code string) ([]string, error) {
	codes, err := s.mfa.ConfirmEnrollment(ctx, claims.AccountID, code)
	if err != nil {
		return nil, s.fail(ctx, "mfa_enable", claims.AccountID, err)
	}
	s.publish(ctx, events.TypeMfaEnabled, claims.AccountID, nil)
	return codes, nil
}

// DisableMfa needs the proof and a second factor.
func (s *SessionService) DisableMfa(ctx context.Context, claims *auth.Claims, proof, code string) error {
	if err := s.mfa.Disable(ctx, claims.AccountID, proof, code); err != nil {
		return s.fail(ctx, "mfa_disable", claims.AccountID, err)
	}
	s.publish(ctx, events.TypeMfaDisabled, claims.AccountID, nil)
	return nil
}

// RegenerateRecoveryCodes replaces the caller's recovery codes.
func (s *SessionService) RegenerateRecoveryCodes(ctx context.Context, claims *auth.Claims) ([]string, error) {
	codes, err := s.mfa.RegenerateRecoveryCodes(ctx, claims.AccountID)
	if err != nil {
		return nil, s.fail(ctx, "mfa_recovery_codes", claims.AccountID, err)
	}
	s.publish(ctx, events.TypeRecoveryCodesRegenerated, claims.AccountID, nil)
	return codes, nil
}
