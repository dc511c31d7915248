package client

import "time"

// Profile is the account view returned by the server.
type Profile struct {
	ID                     string   `json:"id"`
	Email                  string   `json:"email"`
	Roles                  []string `json:"roles"`
	SecurityLevel          int      `json:"securityLevel"`
	MfaEnabled             bool     `json:"mfaEnabled"`
	RecoveryCodesRemaining int      `json:"recoveryCodesRemaining"`
}

// Tokens is the bundle returned by register, login and refresh.
type Tokens struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	ExpiresAt        time.Time `json:"expiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
	Profile          Profile   `json:"profile"`
}

// LoginResult carries either Tokens or RequiresMfa.
type LoginResult struct {
	Tokens      *Tokens
	RequiresMfa bool
}

// Enrollment is a pending TOTP setup.
type Enrollment struct {
	Secret          string `json:"secret"`
	ManualEntry     string `json:"manualEntry"`
	ProvisioningURI string `json:"provisioningUri"`
	QRCodePNG       []byte `json:"qrCodePng"`
}
