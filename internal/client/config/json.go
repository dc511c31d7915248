package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/keeperauth/internal/flagx"
)

const configEnv = "KEEPER_CLIENT_CONFIG"

// JsonConfig is the on-disk shape; absent keys keep earlier values.
type JsonConfig struct {
	ServerURL     *string `json:"server_url"`
	SessionPath   *string `json:"session_path"`
	SecurityLevel *int    `json:"security_level"`
}

func parseJson(cfg *Config, args []string) error {
	path := flagx.ConfigPath(args, os.Getenv(configEnv))
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return err
	}

	if jc.ServerURL != nil {
		cfg.ServerURL = *jc.ServerURL
	}
	if jc.SessionPath != nil {
		cfg.SessionPath = *jc.SessionPath
	}
	if jc.SecurityLevel != nil {
		cfg.SecurityLevel = *jc.SecurityLevel
	}
	return nil
}
