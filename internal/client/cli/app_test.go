package cli

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/keeperauth/internal/client/client"
	"github.com/dmitrijs2005/keeperauth/internal/client/config"
	"github.com/dmitrijs2005/keeperauth/internal/client/services"
	"github.com/dmitrijs2005/keeperauth/internal/common"
	"github.com/dmitrijs2005/keeperauth/internal/cryptox"
)

type fakeSession struct {
	email    string
	loggedIn bool
	mfa      bool

	gotSecret string
	gotCode   string
	gotLevel  cryptox.SecurityLevel
	notes     map[string]services.Note
	resumeErr error
}

func (f *fakeSession) IsLoggedIn() bool { return f.loggedIn }
func (f *fakeSession) Email() string    { return f.email }

func (f *fakeSession) Register(_ context.Context, email, secret string, level cryptox.SecurityLevel) error {
	f.email, f.gotSecret, f.gotLevel, f.loggedIn = email, secret, level, true
	return nil
}

func (f *fakeSession) Login(_ context.Context, email, secret, code string) error {
	if secret != "pw" {
		return common.ErrInvalidCredentials
	}
	if f.mfa && code == "" {
		return services.ErrMfaRequired
	}
	f.email, f.gotCode, f.loggedIn = email, code, true
	return nil
}

func (f *fakeSession) Resume(_ context.Context, secret string) error {
	if f.resumeErr != nil {
		return f.resumeErr
	}
	f.loggedIn = true
	return nil
}

func (f *fakeSession) Logout(context.Context) error { f.loggedIn = false; return nil }

func (f *fakeSession) LogoutAll(context.Context) error { f.loggedIn = false; return nil }

func (f *fakeSession) Me(context.Context) (*client.Profile, error) {
	return &client.Profile{ID: "acc-1", Email: f.email, SecurityLevel: 2, MfaEnabled: f.mfa, RecoveryCodesRemaining: 7}, nil
}

func (f *fakeSession) ChangePassword(_ context.Context, old, pw string, _ cryptox.SecurityLevel) error {
	if old != "pw" {
		return services.ErrWrongSecret
	}
	f.gotSecret, f.loggedIn = pw, false
	return nil
}

func (f *fakeSession) SetupMfa(context.Context) (*client.Enrollment, error) {
	return &client.Enrollment{ManualEntry: "ABCD EFGH", ProvisioningURI: "otpauth://totp/x", QRCodePNG: []byte("png")}, nil
}

func (f *fakeSession) EnableMfa(_ context.Context, code string) ([]string, error) {
	f.gotCode, f.mfa = code, true
	return []string{"aaaa-bbbb-cccc"}, nil
}

func (f *fakeSession) DisableMfa(_ context.Context, secret, code string) error {
	f.gotSecret, f.gotCode, f.mfa = secret, code, false
	return nil
}

func (f *fakeSession) RegenerateRecoveryCodes(context.Context) ([]string, error) {
	return []string{"dddd-eeee-ffff"}, nil
}

func (f *fakeSession) SaveNote(name string, n services.Note) error {
	if f.notes == nil {
		f.notes = map[string]services.Note{}
	}
	f.notes[name] = n
	return nil
}

func (f *fakeSession) OpenNote(name string) (services.Note, error) {
	n, ok := f.notes[name]
	if !ok {
		return services.Note{}, cryptox.ErrDecrypt
	}
	return n, nil
}

func (f *fakeSession) ListItems() ([]string, error) {
	var names []string
	for k := range f.notes {
		names = append(names, k)
	}
	return names, nil
}

// passwords feeds readPassword from a queue.
func passwords(t *testing.T, pws ...string) {
	t.Helper()
	old := readPassword
	t.Cleanup(func() { readPassword = old })
	readPassword = func(int) ([]byte, error) {
		if len(pws) == 0 {
			return nil, nil
		}
		pw := pws[0]
		pws = pws[1:]
		return []byte(pw), nil
	}
}

func newTestApp(f *fakeSession, input string) (*App, *bytes.Buffer) {
	var out bytes.Buffer
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.SecurityLevel = 3
	return &App{
		config:  cfg,
		session: f,
		reader:  bufio.NewReader(strings.NewReader(input)),
		out:     &out,
		closeFn: func() error { return nil },
	}, &out
}

func TestRegister(t *testing.T) {
	passwords(t, "pw", "pw")
	f := &fakeSession{}
	a, out := newTestApp(f, "eve@example.com\n")

	require.NoError(t, a.Register(context.Background()))
	assert.Equal(t, "eve@example.com", f.email)
	assert.Equal(t, "pw", f.gotSecret)
	assert.Equal(t, cryptox.LevelStrong, f.gotLevel)
	assert.Contains(t, out.String(), "Registered")
}

func TestRegister_Mismatch(t *testing.T) {
	passwords(t, "pw", "other")
	a, _ := newTestApp(&fakeSession{}, "eve@example.com\n")
	assert.ErrorIs(t, a.Register(context.Background()), errPasswordMismatch)
}

func TestLogin_WithMfaPrompt(t *testing.T) {
	passwords(t, "pw")
	f := &fakeSession{mfa: true}
	a, out := newTestApp(f, "eve@example.com\n123456\n")

	require.NoError(t, a.Login(context.Background()))
	assert.True(t, f.loggedIn)
	assert.Equal(t, "123456", f.gotCode)
	assert.Contains(t, out.String(), "Authenticator or recovery code")
	assert.Equal(t, "(eve@example.com)", a.status())
}

func TestLogin_Wrong(t *testing.T) {
	passwords(t, "nope")
	a, _ := newTestApp(&fakeSession{}, "eve@example.com\n")
	assert.ErrorIs(t, a.Login(context.Background()), common.ErrInvalidCredentials)
	assert.Equal(t, "", a.status())
}

func TestWhoAmI(t *testing.T) {
	f := &fakeSession{email: "eve@example.com", loggedIn: true, mfa: true}
	a, out := newTestApp(f, "")
	require.NoError(t, a.WhoAmI(context.Background()))
	assert.Contains(t, out.String(), "eve@example.com (id acc-1)")
	assert.Contains(t, out.String(), "7 recovery codes left")
}

func TestChangePassword(t *testing.T) {
	passwords(t, "pw", "new", "new")
	f := &fakeSession{loggedIn: true}
	a, out := newTestApp(f, "")
	require.NoError(t, a.ChangePassword(context.Background()))
	assert.Equal(t, "new", f.gotSecret)
	assert.False(t, f.loggedIn)
	assert.Contains(t, out.String(), "log in again")
}

func TestMfaCommands(t *testing.T) {
	qr := filepath.Join(t.TempDir(), "qr.png")
	passwords(t, "pw")
	f := &fakeSession{loggedIn: true}
	a, out := newTestApp(f, qr+"\n654321\nrecovery-1\n")
	ctx := context.Background()

	require.NoError(t, a.MfaSetup(ctx))
	data, err := os.ReadFile(qr)
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)
	assert.Contains(t, out.String(), "ABCD EFGH")

	require.NoError(t, a.MfaEnable(ctx))
	assert.Equal(t, "654321", f.gotCode)
	assert.Contains(t, out.String(), "aaaa-bbbb-cccc")

	require.NoError(t, a.RecoveryCodes(ctx))
	assert.Contains(t, out.String(), "dddd-eeee-ffff")

	require.NoError(t, a.MfaDisable(ctx))
	assert.Equal(t, "recovery-1", f.gotCode)
	assert.False(t, f.mfa)
}

func TestNotes(t *testing.T) {
	f := &fakeSession{loggedIn: true}
	a, out := newTestApp(f, "shopping\nmilk\neggs\n\nshopping\n")
	ctx := context.Background()

	require.NoError(t, a.AddNote(ctx))
	assert.Equal(t, "milk\neggs", f.notes["shopping"].Body)

	require.NoError(t, a.ShowNote(ctx))
	assert.Contains(t, out.String(), "shopping\nmilk\neggs\n")

	out.Reset()
	require.NoError(t, a.List(ctx))
	assert.Equal(t, "  shopping\n", out.String())
}

func TestRun_ResumeAndExit(t *testing.T) {
	passwords(t, "pw")
	f := &fakeSession{email: "eve@example.com"}
	a, out := newTestApp(f, "whoami\nexit\n")

	require.NoError(t, a.Run(context.Background()))
	assert.True(t, f.loggedIn)
	assert.Contains(t, out.String(), "Session resumed")
	assert.Contains(t, out.String(), "keeper (eve@example.com)>")
	assert.Contains(t, out.String(), "Bye!")
}

func TestRun_SkipResume(t *testing.T) {
	passwords(t, "")
	f := &fakeSession{resumeErr: services.ErrNoSavedLogin}
	a, out := newTestApp(f, "exit\n")

	require.NoError(t, a.Run(context.Background()))
	assert.False(t, f.loggedIn)
	assert.NotContains(t, out.String(), "resume:")
}
