package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/crypto/bcrypt"

	"github.com/dmitrijs2005/keeperauth/internal/cryptox"
	"github.com/dmitrijs2005/keeperauth/internal/logging"
	"github.com/dmitrijs2005/keeperauth/internal/server/auth"
	"github.com/dmitrijs2005/keeperauth/internal/server/config"
	"github.com/dmitrijs2005/keeperauth/internal/server/events"
	"github.com/dmitrijs2005/keeperauth/internal/server/repositories/memory"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	store    *memory.Store
	cfg      *config.Config
	clock    *testClock
	issuer   *auth.Issuer
	creds    *CredentialService
	tokens   *TokenService
	ledger   *RevocationLedger
	mfa      *MfaService
	sessions *SessionService
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.BcryptCost = bcrypt.MinCost
	return cfg
}

// newTestEnv wires every service over one in-memory store. pub may be nil,
// in which case all events are accepted.
func newTestEnv(t *testing.T, pub events.Publisher) *testEnv {
	t.Helper()

	if pub == nil {
		mock := events.NewMockPublisher(gomock.NewController(t))
		mock.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
		pub = mock
	}

	cfg := testConfig()
	clock := &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := memory.NewStore()
	logger := logging.Discard()

	issuer := auth.NewIssuer([]byte(cfg.SecretKey), cfg.AccessTokenValidityDuration)
	issuer.SetClock(clock.Now)

	creds, err := NewCredentialService(store, store, cfg, logger)
	require.NoError(t, err)
	creds.now = clock.Now

	tokens := NewTokenService(store, store, issuer, cfg)
	tokens.now = clock.Now

	ledger := NewRevocationLedger(store, store, nil, logger)
	ledger.now = clock.Now

	mfa, err := NewMfaService(store, store, creds, cfg, logger)
	require.NoError(t, err)
	mfa.now = clock.Now

	sessions := NewSessionService(creds, tokens, ledger, mfa, issuer, pub, cfg, logger)
	sessions.now = clock.Now

	return &testEnv{
		store: store, cfg: cfg, clock: clock, issuer: issuer,
		creds: creds, tokens: tokens, ledger: ledger, mfa: mfa, sessions: sessions,
	}
}

const (
	testEmail = "alice@example.com"
	testProof = "cHJvb2YtMQ=="
)

func (e *testEnv) register(t *testing.T) *TokenPair {
	t.Helper()
	pair, err := e.sessions.Register(context.Background(), testEmail, testProof, cryptox.LevelInteractive)
	require.NoError(t, err)
	return pair
}

// enableMfa runs the full enrollment and returns the TOTP secret and the
// recovery codes.
func (e *testEnv) enableMfa(t *testing.T, accountID string) (string, []string) {
	t.Helper()
	ctx := context.Background()

	enr, err := e.mfa.BeginEnrollment(ctx, accountID)
	require.NoError(t, err)
	codes, err := e.mfa.ConfirmEnrollment(ctx, accountID, e.totpCode(t, enr.Secret))
	require.NoError(t, err)

	// the enrollment code consumed the current step
	e.clock.Advance(30 * time.Second)
	return enr.Secret, codes
}

func (e *testEnv) totpCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, e.clock.Now(), totp.ValidateOpts{
		Period: totpPeriod, Digits: totpDigits, Algorithm: totpAlgorithm,
	})
	require.NoError(t, err)
	return code
}
