package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"

	"github.com/dmitrijs2005/keeperauth/internal/common"
	"github.com/dmitrijs2005/keeperauth/internal/logging"
	"github.com/dmitrijs2005/keeperauth/internal/server"
	"github.com/dmitrijs2005/keeperauth/internal/server/config"
	"github.com/dmitrijs2005/keeperauth/internal/server/services"
)

type openFunc func(ctx context.Context, cfg *config.Config) (*server.Storage, error)

func openStorage(ctx context.Context, cfg *config.Config) (*server.Storage, error) {
	return server.OpenStorage(ctx, cfg)
}

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	var args []string
	if path := cmd.String("config"); path != "" {
		args = []string{"-c", path}
	}
	return config.Load(args)
}

// withStorage loads the config, opens storage and runs fn against it.
func withStorage(open openFunc, fn func(ctx context.Context, cmd *cli.Command, cfg *config.Config, st *server.Storage) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		st, err := open(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		return fn(ctx, cmd, cfg, st)
	}
}

func newCommand(out io.Writer, open openFunc) *cli.Command {
	return &cli.Command{
		Name:  "keeperadmin",
		Usage: "Maintenance tasks for the keeperauth server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the server JSON config file",
				Sources: cli.EnvVars("KEEPER_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "migrate",
				Usage: "Apply database migrations",
				Action: withStorage(open, func(ctx context.Context, _ *cli.Command, _ *config.Config, st *server.Storage) error {
					if err := st.Migrate(ctx); err != nil {
						return fmt.Errorf("migrate: %w", err)
					}
					fmt.Fprintln(out, "migrations applied")
					return nil
				}),
			},
			{
				Name:      "unlock",
				Usage:     "Clear the lockout on an account",
				ArgsUsage: "<email>",
				Action: withStorage(open, func(ctx context.Context, cmd *cli.Command, cfg *config.Config, st *server.Storage) error {
					return unlock(ctx, out, cfg, st, cmd.Args().First())
				}),
			},
			{
				Name:  "sweep",
				Usage: "Delete expired revocation entries and refresh tokens",
				Action: withStorage(open, func(ctx context.Context, _ *cli.Command, _ *config.Config, st *server.Storage) error {
					ledger := services.NewRevocationLedger(st.Runner, st.Repos, nil, logging.Discard())
					res, err := ledger.Sweep(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "removed %d revoked tokens, %d refresh tokens\n", res.RevokedTokens, res.RefreshTokens)
					return nil
				}),
			},
		},
	}
}

func unlock(ctx context.Context, out io.Writer, cfg *config.Config, st *server.Storage, email string) error {
	if email == "" {
		return errors.New("email is required")
	}
	creds, err := services.NewCredentialService(st.Runner, st.Repos, cfg, logging.Discard())
	if err != nil {
		return err
	}
	a, err := creds.GetAccountByEmail(ctx, email)
	if errors.Is(err, common.ErrorNotFound) {
		return fmt.Errorf("no account for %s", email)
	}
	if err != nil {
		return err
	}
	if err := creds.Unlock(ctx, a.ID); err != nil {
		return err
	}
	fmt.Fprintf(out, "account %s unlocked\n", email)
	return nil
}
