package config

import (
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const envPrefix = "KEEPER_"

// dotenvFiles are loaded before the environment is read. Variables already
// present in the process environment win over the file.
var dotenvFiles = []string{".env"}

// parseEnv overlays KEEPER_* variables. Unset variables keep the value
// from the previous layer.
func parseEnv(config *Config) error {
	for _, f := range dotenvFiles {
		_ = godotenv.Load(f)
	}
	return env.ParseWithOptions(config, env.Options{Prefix: envPrefix})
}
