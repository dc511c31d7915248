package config

import (
	"flag"
	"io"

	"github.com/dmitrijs2005/keeperauth/internal/flagx"
)

func parseFlags(cfg *Config, args []string) error {
	args = flagx.FilterArgs(args, []string{"-a", "-s", "-l"})

	fs := flag.NewFlagSet("keeper", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.ServerURL, "a", cfg.ServerURL, "server base URL")
	fs.StringVar(&cfg.SessionPath, "s", cfg.SessionPath, "session file path")
	fs.IntVar(&cfg.SecurityLevel, "l", cfg.SecurityLevel, "KDF security level for new accounts")

	return fs.Parse(args)
}
