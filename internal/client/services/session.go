// Package services holds the client-side session: it derives keys from the
// master secret, talks to the server through an API, keeps the vault key in
// memory and persists what may survive a restart.
package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/keeperauth/internal/client/client"
	"github.com/dmitrijs2005/keeperauth/internal/client/session"
	"github.com/dmitrijs2005/keeperauth/internal/common"
	"github.com/dmitrijs2005/keeperauth/internal/cryptox"
)

var (
	ErrNotLoggedIn  = errors.New("not logged in")
	ErrMfaRequired  = errors.New("mfa code required")
	ErrWrongSecret  = errors.New("master password does not match the saved session")
	ErrNoSavedLogin = errors.New("no saved session to resume")
)

// refreshMargin renews the access token this long before it expires.
const refreshMargin = 30 * time.Second

const keyCheckType = "keycheck"

// API is the server surface the session needs.
type API interface {
	Prelogin(ctx context.Context, email string) (int, error)
	Register(ctx context.Context, email, proof string, level int) (*client.Tokens, error)
	Login(ctx context.Context, email, proof, mfaCode string) (*client.LoginResult, error)
	Refresh(ctx context.Context, refreshToken, bearer string) (*client.Tokens, error)
	Logout(ctx context.Context, bearer, refreshToken string) error
	LogoutAll(ctx context.Context, bearer string) error
	ChangePassword(ctx context.Context, bearer, oldProof, newProof string, level int) error
	Me(ctx context.Context, bearer string) (*client.Profile, error)
	SetupMfa(ctx context.Context, bearer string) (*client.Enrollment, error)
	EnableMfa(ctx context.Context, bearer, code string) ([]string, error)
	DisableMfa(ctx context.Context, bearer, proof, code string) error
	RegenerateRecoveryCodes(ctx context.Context, bearer string) ([]string, error)
}

// Store persists the session record and sealed items.
type Store interface {
	Load() (*session.Record, error)
	Save(rec *session.Record) error
	Clear() error
	PutItem(name string, env *cryptox.Envelope) error
	GetItem(name string) (*cryptox.Envelope, error)
	ItemNames() ([]string, error)
	Items() (map[string]*cryptox.Envelope, error)
	ReplaceItems(items map[string]*cryptox.Envelope, rec *session.Record) error
}

// Session is one logged-in user. Methods are safe for concurrent use.
type Session struct {
	api   API
	store Store
	now   func() time.Time

	mu        sync.Mutex
	email     string
	level     cryptox.SecurityLevel
	key       *cryptox.VaultKey
	access    string
	accessExp time.Time
	refresh   string
	profile   client.Profile
}

// NewSession returns a logged-out Session.
func NewSession(api API, store Store) *Session {
	return &Session{api: api, store: store, now: time.Now}
}

func (s *Session) IsLoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key != nil
}

func (s *Session) Email() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.email
}

// Profile returns the account view from the last token bundle.
func (s *Session) Profile() client.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// Register creates the account and logs in. A zero level means
// cryptox.DefaultSecurityLevel.
func (s *Session) Register(ctx context.Context, email, secret string, level cryptox.SecurityLevel) error {
	if level == 0 {
		level = cryptox.DefaultSecurityLevel
	}
	keys, err := cryptox.Derive(email, secret, level)
	if err != nil {
		return err
	}

	tokens, err := s.api.Register(ctx, email, keys.ProofString(), int(level))
	if err != nil {
		keys.VaultKey.Clear()
		return fmt.Errorf("register: %w", err)
	}
	return s.adopt(email, level, keys.VaultKey, tokens)
}

// Login authenticates with the master secret. When the account has MFA and
// mfaCode is empty it returns ErrMfaRequired without keeping any key.
func (s *Session) Login(ctx context.Context, email, secret, mfaCode string) error {
	lv, err := s.api.Prelogin(ctx, email)
	if err != nil {
		return fmt.Errorf("prelogin: %w", err)
	}
	level := cryptox.SecurityLevel(lv)

	keys, err := cryptox.Derive(email, secret, level)
	if err != nil {
		return err
	}

	res, err := s.api.Login(ctx, email, keys.ProofString(), mfaCode)
	if err != nil {
		keys.VaultKey.Clear()
		return fmt.Errorf("login: %w", err)
	}
	if res.RequiresMfa {
		keys.VaultKey.Clear()
		return ErrMfaRequired
	}
	return s.adopt(email, level, keys.VaultKey, res.Tokens)
}

// Resume re-derives the vault key for the saved session and rotates its
// refresh token. The secret is checked against the saved key check.
func (s *Session) Resume(ctx context.Context, secret string) error {
	rec, err := s.store.Load()
	if errors.Is(err, session.ErrNoSession) || (err == nil && rec.RefreshToken == "") {
		return ErrNoSavedLogin
	}
	if err != nil {
		return err
	}

	level := cryptox.SecurityLevel(rec.SecurityLevel)
	keys, err := cryptox.Derive(rec.Email, secret, level)
	if err != nil {
		return err
	}
	if rec.KeyCheck != nil {
		var email string
		if err := cryptox.Open(keys.VaultKey, rec.KeyCheck, &email); err != nil || email != cryptox.NormalizeEmail(rec.Email) {
			keys.VaultKey.Clear()
			return ErrWrongSecret
		}
	}

	tokens, err := s.api.Refresh(ctx, rec.RefreshToken, "")
	if err != nil {
		keys.VaultKey.Clear()
		if errors.Is(err, common.ErrInvalidToken) {
			_ = s.store.Clear()
		}
		return fmt.Errorf("resume: %w", err)
	}
	return s.adopt(rec.Email, level, keys.VaultKey, tokens)
}

// adopt installs a fresh login and persists the record.
func (s *Session) adopt(email string, level cryptox.SecurityLevel, key *cryptox.VaultKey, t *client.Tokens) error {
	check, err := cryptox.Seal(key, keyCheckType, cryptox.NormalizeEmail(email))
	if err != nil {
		key.Clear()
		return err
	}

	s.mu.Lock()
	if s.key != nil && s.key != key {
		s.key.Clear()
	}
	s.email = email
	s.level = level
	s.key = key
	s.setTokensLocked(t)
	rec := s.recordLocked(check)
	s.mu.Unlock()

	return s.store.Save(rec)
}

func (s *Session) setTokensLocked(t *client.Tokens) {
	s.access = t.AccessToken
	s.accessExp = t.ExpiresAt
	s.refresh = t.RefreshToken
	s.profile = t.Profile
	if t.Profile.SecurityLevel != 0 {
		s.level = cryptox.SecurityLevel(t.Profile.SecurityLevel)
	}
}

func (s *Session) recordLocked(check *cryptox.Envelope) *session.Record {
	return &session.Record{
		Email:         s.email,
		SecurityLevel: int(s.level),
		RefreshToken:  s.refresh,
		KeyCheck:      check,
	}
}

// Refresh rotates the token pair and retires the current access token.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked(ctx)
}

func (s *Session) refreshLocked(ctx context.Context) error {
	if s.key == nil {
		return ErrNotLoggedIn
	}
	tokens, err := s.api.Refresh(ctx, s.refresh, s.access)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	s.setTokensLocked(tokens)

	rec, err := s.store.Load()
	if err != nil {
		rec = s.recordLocked(nil)
	}
	rec.RefreshToken = s.refresh
	return s.store.Save(rec)
}

// authorized runs fn with a valid bearer, refreshing first when the access
// token is about to expire and once more if the server rejects it.
func (s *Session) authorized(ctx context.Context, fn func(bearer string) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.key == nil {
		return ErrNotLoggedIn
	}
	if !s.accessExp.IsZero() && s.now().Add(refreshMargin).After(s.accessExp) {
		if err := s.refreshLocked(ctx); err != nil {
			return err
		}
	}

	err := fn(s.access)
	if errors.Is(err, common.ErrorUnauthorized) {
		if rerr := s.refreshLocked(ctx); rerr != nil {
			return err
		}
		err = fn(s.access)
	}
	return err
}

// Logout ends the session on the server (best effort) and wipes the key.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	access, refresh := s.access, s.refresh
	s.resetLocked()
	s.mu.Unlock()

	if access != "" || refresh != "" {
		_ = s.api.Logout(ctx, access, refresh)
	}
	return s.store.Clear()
}

func (s *Session) resetLocked() {
	s.key.Clear()
	s.key = nil
	s.email = ""
	s.level = 0
	s.access = ""
	s.accessExp = time.Time{}
	s.refresh = ""
	s.profile = client.Profile{}
}

// LogoutAll revokes every session of the account, this one included.
func (s *Session) LogoutAll(ctx context.Context) error {
	err := s.authorized(ctx, func(bearer string) error {
		return s.api.LogoutAll(ctx, bearer)
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()
	return s.store.Clear()
}

func (s *Session) Me(ctx context.Context) (*client.Profile, error) {
	var p *client.Profile
	err := s.authorized(ctx, func(bearer string) (err error) {
		p, err = s.api.Me(ctx, bearer)
		return err
	})
	return p, err
}

// ChangePassword moves the account to a new master secret. Local items are
// resealed under the new vault key. The server revokes every session, so
// the client is logged out afterwards. A zero level keeps the current one.
func (s *Session) ChangePassword(ctx context.Context, oldSecret, newSecret string, level cryptox.SecurityLevel) error {
	s.mu.Lock()
	email, current, key := s.email, s.level, s.key
	s.mu.Unlock()
	if key == nil {
		return ErrNotLoggedIn
	}
	if level == 0 {
		level = current
	}

	oldKeys, err := cryptox.Derive(email, oldSecret, current)
	if err != nil {
		return err
	}
	defer oldKeys.VaultKey.Clear()
	if !sameKey(key, oldKeys.VaultKey) {
		return ErrWrongSecret
	}

	newKeys, err := cryptox.Derive(email, newSecret, level)
	if err != nil {
		return err
	}
	defer newKeys.VaultKey.Clear()

	items, err := s.store.Items()
	if err != nil {
		return err
	}
	resealed := make(map[string]*cryptox.Envelope, len(items))
	for name, env := range items {
		if resealed[name], err = cryptox.Reseal(oldKeys.VaultKey, newKeys.VaultKey, env); err != nil {
			return fmt.Errorf("reseal %s: %w", name, err)
		}
	}

	err = s.authorized(ctx, func(bearer string) error {
		return s.api.ChangePassword(ctx, bearer, oldKeys.ProofString(), newKeys.ProofString(), int(level))
	})
	if err != nil {
		return fmt.Errorf("change password: %w", err)
	}

	if err := s.store.ReplaceItems(resealed, nil); err != nil {
		return fmt.Errorf("store resealed items: %w", err)
	}

	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()
	return s.store.Clear()
}

func sameKey(a, b *cryptox.VaultKey) bool {
	ka, err := a.Bytes()
	if err != nil {
		return false
	}
	defer common.WipeByteArray(ka)
	kb, err := b.Bytes()
	if err != nil {
		return false
	}
	defer common.WipeByteArray(kb)
	return subtle.ConstantTimeCompare(ka, kb) == 1
}

func (s *Session) SetupMfa(ctx context.Context) (*client.Enrollment, error) {
	var e *client.Enrollment
	err := s.authorized(ctx, func(bearer string) (err error) {
		e, err = s.api.SetupMfa(ctx, bearer)
		return err
	})
	return e, err
}

func (s *Session) EnableMfa(ctx context.Context, code string) ([]string, error) {
	var codes []string
	err := s.authorized(ctx, func(bearer string) (err error) {
		codes, err = s.api.EnableMfa(ctx, bearer, code)
		return err
	})
	return codes, err
}

// DisableMfa needs the master secret and a current second factor.
func (s *Session) DisableMfa(ctx context.Context, secret, code string) error {
	s.mu.Lock()
	email, level := s.email, s.level
	s.mu.Unlock()
	if email == "" {
		return ErrNotLoggedIn
	}

	keys, err := cryptox.Derive(email, secret, level)
	if err != nil {
		return err
	}
	keys.VaultKey.Clear()

	return s.authorized(ctx, func(bearer string) error {
		return s.api.DisableMfa(ctx, bearer, keys.ProofString(), code)
	})
}

func (s *Session) RegenerateRecoveryCodes(ctx context.Context) ([]string, error) {
	var codes []string
	err := s.authorized(ctx, func(bearer string) (err error) {
		codes, err = s.api.RegenerateRecoveryCodes(ctx, bearer)
		return err
	})
	return codes, err
}
