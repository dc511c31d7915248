// Package config loads runtime configuration for the keeperauth CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected with -c/-config or KEEPER_CLIENT_CONFIG.
//  3. Command-line flags, which override earlier values.
//
// Supported flags
//
//	-a string   base URL of the keeperauth server
//	-s string   path of the local session file
//	-l int      KDF security level for new accounts (1-4)
//
// # JSON schema
//
//	{
//	  "server_url": "http://127.0.0.1:8080",
//	  "session_path": "/home/me/.keeperauth/session.db",
//	  "security_level": 2
//	}
package config
