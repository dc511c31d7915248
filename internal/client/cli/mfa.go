package cli

import (
	"context"
	"fmt"
	"os"
)

func (a *App) MfaSetup(ctx context.Context) error {
	e, err := a.session.SetupMfa(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Add this key to your authenticator app:")
	fmt.Fprintln(a.out, "  "+e.ManualEntry)
	fmt.Fprintln(a.out, "or open:", e.ProvisioningURI)

	if len(e.QRCodePNG) > 0 {
		path, err := GetSimpleText(a.reader, "Save QR code to file (empty to skip)", a.out)
		if err != nil {
			return err
		}
		if path != "" {
			if err := os.WriteFile(path, e.QRCodePNG, 0o600); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "QR code written to", path)
		}
	}
	fmt.Fprintln(a.out, "Then run mfa-enable with a code from the app")
	return nil
}

func (a *App) printCodes(codes []string) {
	fmt.Fprintln(a.out, "Recovery codes (each works once, store them safely):")
	for _, c := range codes {
		fmt.Fprintln(a.out, "  "+c)
	}
}

func (a *App) MfaEnable(ctx context.Context) error {
	code, err := GetSimpleText(a.reader, "Code from your authenticator app", a.out)
	if err != nil {
		return err
	}
	codes, err := a.session.EnableMfa(ctx, code)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Two-factor authentication enabled")
	a.printCodes(codes)
	return nil
}

func (a *App) MfaDisable(ctx context.Context) error {
	pw, err := GetPassword(a.out, "Master password")
	if err != nil {
		return err
	}
	code, err := GetSimpleText(a.reader, "Authenticator or recovery code", a.out)
	if err != nil {
		return err
	}
	if err := a.session.DisableMfa(ctx, pw, code); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Two-factor authentication disabled")
	return nil
}

func (a *App) RecoveryCodes(ctx context.Context) error {
	codes, err := a.session.RegenerateRecoveryCodes(ctx)
	if err != nil {
		return err
	}
	a.printCodes(codes)
	return nil
}
