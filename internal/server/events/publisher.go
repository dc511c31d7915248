// Package events publishes audit events for security-relevant account
// activity: logins, lockouts, revocations and MFA changes.
package events

//go:generate mockgen -source=publisher.go -destination=mock_publisher.go -package=events

import (
	"context"
	"errors"
	"time"
)

// Event types.
const (
	TypeRegistered               = "registered"
	TypeLoginSucceeded           = "login_succeeded"
	TypeLoginFailed              = "login_failed"
	TypeAccountLocked            = "account_locked"
	TypeRefreshReuseDetected     = "refresh_reuse_detected"
	TypeLogout                   = "logout"
	TypeLogoutAll                = "logout_all"
	TypePasswordChanged          = "password_changed"
	TypeMfaEnabled               = "mfa_enabled"
	TypeMfaDisabled              = "mfa_disabled"
	TypeRecoveryCodeUsed         = "recovery_code_used"
	TypeRecoveryCodesRegenerated = "recovery_codes_regenerated"
)

// Event is one audit record.
type Event struct {
	Type      string            `json:"type"`
	AccountID string            `json:"accountId"`
	At        time.Time         `json:"at"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// Publisher delivers audit events. Failures never fail the request that
// caused the event.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Fanout publishes to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
