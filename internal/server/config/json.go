package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/keeperauth/internal/flagx"
	"github.com/dmitrijs2005/keeperauth/internal/timex"
)

// JsonConfig is the on-disk shape of the config file. Absent keys leave the
// current value alone, so pointer types mark what was actually set.
type JsonConfig struct {
	EndpointAddrHTTP             *string         `json:"endpoint_addr_http"`
	EndpointAddrGRPC             *string         `json:"endpoint_addr_grpc"`
	StorageDriver                *string         `json:"storage_driver"`
	DatabaseDSN                  *string         `json:"database_dsn"`
	SecretKey                    *string         `json:"secret_key"`
	MfaEncryptionKey             *string         `json:"mfa_encryption_key"`
	AccessTokenValidityDuration  *timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration *timex.Duration `json:"refresh_token_validity_duration"`
	SweepInterval                *timex.Duration `json:"sweep_interval"`
	MaxFailedLogins              *int            `json:"max_failed_logins"`
	BcryptCost                   *int            `json:"bcrypt_cost"`
	RecoveryCodeCount            *int            `json:"recovery_code_count"`
	DefaultSecurityLevel         *int            `json:"default_security_level"`
	TOTPIssuer                   *string         `json:"totp_issuer"`
	RevokeAllOnRefreshReuse      *bool           `json:"revoke_all_on_refresh_reuse"`
	RedisAddr                    *string         `json:"redis_addr"`
	NatsURL                      *string         `json:"nats_url"`
	NatsSubjectPrefix            *string         `json:"nats_subject_prefix"`
	Environment                  *string         `json:"environment"`
	LogLevel                     *string         `json:"log_level"`
}

func parseJson(config *Config, args []string) error {
	path := flagx.ConfigPath(args, os.Getenv(envPrefix+"CONFIG"))
	if path == "" {
		return nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return err
	}

	set(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	set(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	set(&config.StorageDriver, c.StorageDriver)
	set(&config.DatabaseDSN, c.DatabaseDSN)
	set(&config.SecretKey, c.SecretKey)
	set(&config.MfaEncryptionKey, c.MfaEncryptionKey)
	if c.AccessTokenValidityDuration != nil {
		config.AccessTokenValidityDuration = c.AccessTokenValidityDuration.Duration
	}
	if c.RefreshTokenValidityDuration != nil {
		config.RefreshTokenValidityDuration = c.RefreshTokenValidityDuration.Duration
	}
	if c.SweepInterval != nil {
		config.SweepInterval = c.SweepInterval.Duration
	}
	set(&config.MaxFailedLogins, c.MaxFailedLogins)
	set(&config.BcryptCost, c.BcryptCost)
	set(&config.RecoveryCodeCount, c.RecoveryCodeCount)
	set(&config.DefaultSecurityLevel, c.DefaultSecurityLevel)
	set(&config.TOTPIssuer, c.TOTPIssuer)
	set(&config.RevokeAllOnRefreshReuse, c.RevokeAllOnRefreshReuse)
	set(&config.RedisAddr, c.RedisAddr)
	set(&config.NatsURL, c.NatsURL)
	set(&config.NatsSubjectPrefix, c.NatsSubjectPrefix)
	set(&config.Environment, c.Environment)
	set(&config.LogLevel, c.LogLevel)

	return nil
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
