package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/keeperauth/internal/cryptox"
)

// Config holds runtime settings for the CLI.
type Config struct {
	ServerURL     string
	SessionPath   string
	SecurityLevel int
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:8080"
	c.SessionPath = defaultSessionPath()
	c.SecurityLevel = int(cryptox.DefaultSecurityLevel)
}

func defaultSessionPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "session.db"
	}
	return filepath.Join(home, ".keeperauth", "session.db")
}

// LoadConfig builds the Config from os.Args.
func LoadConfig() (*Config, error) {
	return Load(os.Args[1:])
}

// Load applies defaults, then JSON, then flags. Later sources win.
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJson(cfg, args); err != nil {
		return nil, fmt.Errorf("json config: %w", err)
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, fmt.Errorf("flags: %w", err)
	}
	if !cryptox.SecurityLevel(cfg.SecurityLevel).Valid() {
		return nil, fmt.Errorf("unknown security level %d", cfg.SecurityLevel)
	}
	return cfg, nil
}
