package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/keeperauth/internal/client/services"
	"github.com/dmitrijs2005/keeperauth/internal/cryptox"
)

var errPasswordMismatch = errors.New("passwords do not match")

func (a *App) newPassword(prompt string) (string, error) {
	pw, err := GetPassword(a.out, prompt)
	if err != nil {
		return "", err
	}
	again, err := GetPassword(a.out, "Repeat")
	if err != nil {
		return "", err
	}
	if pw != again {
		return "", errPasswordMismatch
	}
	return pw, nil
}

func (a *App) Register(ctx context.Context) error {
	email, err := GetSimpleText(a.reader, "Enter email", a.out)
	if err != nil {
		return err
	}
	pw, err := a.newPassword("Choose master password")
	if err != nil {
		return err
	}
	if err := a.session.Register(ctx, email, pw, cryptox.SecurityLevel(a.config.SecurityLevel)); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Registered and logged in")
	return nil
}

func (a *App) Login(ctx context.Context) error {
	email, err := GetSimpleText(a.reader, "Enter email", a.out)
	if err != nil {
		return err
	}
	pw, err := GetPassword(a.out, "Master password")
	if err != nil {
		return err
	}

	err = a.session.Login(ctx, email, pw, "")
	if errors.Is(err, services.ErrMfaRequired) {
		code, cerr := GetSimpleText(a.reader, "Authenticator or recovery code", a.out)
		if cerr != nil {
			return cerr
		}
		err = a.session.Login(ctx, email, pw, code)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Login successful")
	return nil
}

func (a *App) Logout(ctx context.Context) error {
	if err := a.session.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Logged out")
	return nil
}

func (a *App) LogoutAll(ctx context.Context) error {
	if err := a.session.LogoutAll(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "All sessions ended")
	return nil
}

func (a *App) WhoAmI(ctx context.Context) error {
	p, err := a.session.Me(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s (id %s)\n", p.Email, p.ID)
	fmt.Fprintf(a.out, "security level: %s\n", cryptox.SecurityLevel(p.SecurityLevel))
	if p.MfaEnabled {
		fmt.Fprintf(a.out, "two-factor: on, %d recovery codes left\n", p.RecoveryCodesRemaining)
	} else {
		fmt.Fprintln(a.out, "two-factor: off")
	}
	return nil
}

func (a *App) ChangePassword(ctx context.Context) error {
	old, err := GetPassword(a.out, "Current master password")
	if err != nil {
		return err
	}
	pw, err := a.newPassword("New master password")
	if err != nil {
		return err
	}
	if err := a.session.ChangePassword(ctx, old, pw, 0); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Password changed. All sessions were ended; please log in again")
	return nil
}
