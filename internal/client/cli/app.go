package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/keeperauth/internal/client/client"
	"github.com/dmitrijs2005/keeperauth/internal/client/config"
	"github.com/dmitrijs2005/keeperauth/internal/client/services"
	"github.com/dmitrijs2005/keeperauth/internal/client/session"
	"github.com/dmitrijs2005/keeperauth/internal/common"
	"github.com/dmitrijs2005/keeperauth/internal/cryptox"
)

// sessionAPI is what the commands need from services.Session.
type sessionAPI interface {
	IsLoggedIn() bool
	Email() string
	Register(ctx context.Context, email, secret string, level cryptox.SecurityLevel) error
	Login(ctx context.Context, email, secret, mfaCode string) error
	Resume(ctx context.Context, secret string) error
	Logout(ctx context.Context) error
	LogoutAll(ctx context.Context) error
	Me(ctx context.Context) (*client.Profile, error)
	ChangePassword(ctx context.Context, oldSecret, newSecret string, level cryptox.SecurityLevel) error
	SetupMfa(ctx context.Context) (*client.Enrollment, error)
	EnableMfa(ctx context.Context, code string) ([]string, error)
	DisableMfa(ctx context.Context, secret, code string) error
	RegenerateRecoveryCodes(ctx context.Context) ([]string, error)
	SaveNote(name string, n services.Note) error
	OpenNote(name string) (services.Note, error)
	ListItems() ([]string, error)
}

type App struct {
	config  *config.Config
	session sessionAPI
	reader  *bufio.Reader
	out     io.Writer
	closeFn func() error
}

// NewApp opens the local session file and connects the REST client.
func NewApp(c *config.Config) (*App, error) {
	store, err := session.Open(c.SessionPath)
	if err != nil {
		return nil, err
	}
	api := client.NewRESTClient(c.ServerURL, nil)

	return &App{
		config:  c,
		session: services.NewSession(api, store),
		reader:  bufio.NewReader(os.Stdin),
		out:     os.Stdout,
		closeFn: store.Close,
	}, nil
}

func (a *App) isLoggedIn() bool {
	return a.session.IsLoggedIn()
}

func (a *App) status() string {
	if !a.isLoggedIn() {
		return ""
	}
	return "(" + a.session.Email() + ")"
}

// Run offers to resume a saved session, then serves the REPL on stdin.
func (a *App) Run(ctx context.Context) error {
	defer a.closeFn()

	fmt.Fprintln(a.out, "Welcome to keeperauth (type 'help' for commands)")
	a.resume(ctx)

	runREPL(ctx, a, a.status, a.reader, a.out)
	return nil
}

func (a *App) resume(ctx context.Context) {
	pw, err := GetPassword(a.out, "Master password to resume the saved session (empty to skip)")
	if err != nil || pw == "" {
		return
	}
	switch err := a.session.Resume(ctx, pw); {
	case err == nil:
		fmt.Fprintln(a.out, "Session resumed")
	case errors.Is(err, services.ErrNoSavedLogin):
		fmt.Fprintln(a.out, "No saved session")
	default:
		fmt.Fprintln(a.out, "Could not resume:", describe(err))
	}
}

// describe turns an error into a line for the user.
func describe(err error) string {
	switch {
	case errors.Is(err, common.ErrInvalidCredentials):
		return "invalid email, password or code"
	case errors.Is(err, common.ErrAccountLocked):
		return "account is locked, contact an administrator"
	case errors.Is(err, common.ErrConflict):
		return "an account with this email already exists"
	case errors.Is(err, common.ErrInvalidToken), errors.Is(err, common.ErrorUnauthorized):
		return "session expired, please log in again"
	case errors.Is(err, common.ErrValidation):
		return "invalid input: " + err.Error()
	case errors.Is(err, common.ErrMfaAlreadyEnabled):
		return "two-factor authentication is already enabled"
	case errors.Is(err, common.ErrMfaNotEnabled):
		return "two-factor authentication is not enabled"
	case errors.Is(err, common.ErrMfaEnrollmentNotStarted):
		return "run mfa-setup first"
	case errors.Is(err, client.ErrUnavailable):
		return "server unavailable"
	case errors.Is(err, cryptox.ErrDecrypt):
		return "item cannot be decrypted with the current key"
	}
	return err.Error()
}
