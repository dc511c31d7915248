package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// execIface is the command surface the REPL drives. *App satisfies it.
type execIface interface {
	isLoggedIn() bool
	Register(ctx context.Context) error
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	LogoutAll(ctx context.Context) error
	WhoAmI(ctx context.Context) error
	ChangePassword(ctx context.Context) error
	MfaSetup(ctx context.Context) error
	MfaEnable(ctx context.Context) error
	MfaDisable(ctx context.Context) error
	RecoveryCodes(ctx context.Context) error
	AddNote(ctx context.Context) error
	ShowNote(ctx context.Context) error
	List(ctx context.Context) error
}

const (
	helpLoggedOut = "Available commands: register, login, exit"
	helpLoggedIn  = "Available commands: whoami, addnote, show, (l)ist, passwd, mfa-setup, mfa-enable, mfa-disable, recovery-codes, logout, logout-all, exit"
)

// runREPL reads commands from reader until EOF or "exit". Command errors
// are reported and the loop goes on. Commands prompt on the same reader.
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader, w io.Writer) {
	for {
		fmt.Fprintf(w, "keeper %s> ", statusFn())
		line, rerr := reader.ReadString('\n')
		if rerr != nil && line == "" {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd := parts[0]

		var err error
		switch cmd {
		case "help":
			if a.isLoggedIn() {
				fmt.Fprintln(w, helpLoggedIn)
			} else {
				fmt.Fprintln(w, helpLoggedOut)
			}
		case "register":
			err = a.Register(ctx)
		case "login":
			err = a.Login(ctx)
		case "logout":
			err = a.Logout(ctx)
		case "logout-all":
			err = a.LogoutAll(ctx)
		case "whoami":
			err = a.WhoAmI(ctx)
		case "passwd":
			err = a.ChangePassword(ctx)
		case "mfa-setup":
			err = a.MfaSetup(ctx)
		case "mfa-enable":
			err = a.MfaEnable(ctx)
		case "mfa-disable":
			err = a.MfaDisable(ctx)
		case "recovery-codes":
			err = a.RecoveryCodes(ctx)
		case "addnote":
			err = a.AddNote(ctx)
		case "show":
			err = a.ShowNote(ctx)
		case "l", "list":
			err = a.List(ctx)
		case "exit", "quit":
			fmt.Fprintln(w, "Bye!")
			return
		default:
			fmt.Fprintln(w, "Unknown command:", cmd)
		}

		if err != nil {
			fmt.Fprintln(w, "Error:", describe(err))
		}
	}
}
