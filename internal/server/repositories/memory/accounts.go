package memory

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/keeperauth/internal/common"
	"github.com/dmitrijs2005/keeperauth/internal/server/models"
)

type accountRepo struct{ conn }

func (r *accountRepo) Create(_ context.Context, a *models.Account) error {
	return r.locked(func(d *data) error {
		if _, ok := d.emails[a.Email]; ok {
			return common.ErrConflict
		}
		if _, ok := d.accounts[a.ID]; ok {
			return common.ErrConflict
		}
		d.accounts[a.ID] = *a
		d.emails[a.Email] = a.ID
		return nil
	})
}

func (r *accountRepo) GetByID(_ context.Context, id string) (*models.Account, error) {
	var out *models.Account
	err := r.locked(func(d *data) error {
		a, ok := d.accounts[id]
		if !ok {
			return common.ErrorNotFound
		}
		out = &a
		return nil
	})
	return out, err
}

func (r *accountRepo) GetByEmail(_ context.Context, email string) (*models.Account, error) {
	var out *models.Account
	err := r.locked(func(d *data) error {
		a, ok := d.accounts[d.emails[email]]
		if !ok {
			return common.ErrorNotFound
		}
		out = &a
		return nil
	})
	return out, err
}

// update applies fn to the stored account. fn returns false when its guard
// fails, in which case missErr is returned and nothing is written.
func (r *accountRepo) update(id string, missErr error, fn func(a *models.Account) bool) error {
	return r.locked(func(d *data) error {
		a, ok := d.accounts[id]
		if !ok {
			return common.ErrorNotFound
		}
		if !fn(&a) {
			return missErr
		}
		d.accounts[id] = a
		return nil
	})
}

func (r *accountRepo) RecordLoginFailure(_ context.Context, id string, maxAttempts int, now time.Time) (int, bool, error) {
	var (
		n      int
		locked bool
	)
	err := r.update(id, nil, func(a *models.Account) bool {
		a.FailedAttempts++
		lockIfReached(a, a.FailedAttempts, maxAttempts, now)
		n, locked = a.FailedAttempts, a.Locked
		return true
	})
	return n, locked, err
}

func (r *accountRepo) RecordMfaFailure(_ context.Context, id string, maxAttempts int, now time.Time) (int, bool, error) {
	var (
		n      int
		locked bool
	)
	err := r.update(id, nil, func(a *models.Account) bool {
		a.MfaFailedAttempts++
		lockIfReached(a, a.MfaFailedAttempts, maxAttempts, now)
		n, locked = a.MfaFailedAttempts, a.Locked
		return true
	})
	return n, locked, err
}

func lockIfReached(a *models.Account, attempts, maxAttempts int, now time.Time) {
	if !a.Locked && attempts >= maxAttempts {
		a.Locked = true
		a.LockedAt = &now
	}
	a.UpdatedAt = now
}

func (r *accountRepo) RecordLoginSuccess(_ context.Context, id string, now time.Time) error {
	return r.update(id, nil, func(a *models.Account) bool {
		a.FailedAttempts = 0
		a.LastActivityAt = &now
		a.UpdatedAt = now
		return true
	})
}

func (r *accountRepo) ResetMfaFailures(_ context.Context, id string, now time.Time) error {
	return r.update(id, nil, func(a *models.Account) bool {
		a.MfaFailedAttempts = 0
		a.UpdatedAt = now
		return true
	})
}

func (r *accountRepo) Unlock(_ context.Context, id string, now time.Time) error {
	return r.update(id, nil, func(a *models.Account) bool {
		a.Locked = false
		a.LockedAt = nil
		a.FailedAttempts = 0
		a.MfaFailedAttempts = 0
		a.UpdatedAt = now
		return true
	})
}

func (r *accountRepo) ReplaceProof(_ context.Context, id, oldHash, newHash string, level int, now time.Time) error {
	return r.update(id, common.ErrConflict, func(a *models.Account) bool {
		if a.ProofHash != oldHash {
			return false
		}
		a.ProofHash = newHash
		a.SecurityLevel = level
		a.UpdatedAt = now
		return true
	})
}

func (r *accountRepo) SetPendingMfaSecret(_ context.Context, id string, sealed []byte, now time.Time) error {
	return r.update(id, nil, func(a *models.Account) bool {
		a.MfaPendingSecret = sealed
		a.MfaPendingAt = &now
		a.UpdatedAt = now
		return true
	})
}

func (r *accountRepo) EnableMfa(_ context.Context, id string, sealed []byte, counter int64, recoveryCodes int, now time.Time) error {
	return r.update(id, common.ErrConflict, func(a *models.Account) bool {
		if a.MfaEnabled {
			return false
		}
		a.MfaEnabled = true
		a.MfaSecret = sealed
		a.MfaPendingSecret = nil
		a.MfaPendingAt = nil
		a.MfaLastCounter = counter
		a.MfaFailedAttempts = 0
		a.RecoveryCodesRemaining = recoveryCodes
		a.UpdatedAt = now
		return true
	})
}

func (r *accountRepo) DisableMfa(_ context.Context, id string, now time.Time) error {
	return r.update(id, common.ErrConflict, func(a *models.Account) bool {
		if !a.MfaEnabled {
			return false
		}
		a.MfaEnabled = false
		a.MfaSecret = nil
		a.MfaPendingSecret = nil
		a.MfaPendingAt = nil
		a.MfaLastCounter = 0
		a.RecoveryCodesRemaining = 0
		a.UpdatedAt = now
		return true
	})
}

func (r *accountRepo) AdvanceMfaCounter(_ context.Context, id string, counter int64, now time.Time) (bool, error) {
	err := r.update(id, common.ErrConflict, func(a *models.Account) bool {
		if a.MfaLastCounter >= counter {
			return false
		}
		a.MfaLastCounter = counter
		a.UpdatedAt = now
		return true
	})
	if errors.Is(err, common.ErrConflict) {
		return false, nil
	}
	return err == nil, err
}

func (r *accountRepo) SetRecoveryCodesRemaining(_ context.Context, id string, n int, now time.Time) error {
	return r.update(id, common.ErrConflict, func(a *models.Account) bool {
		if !a.MfaEnabled {
			return false
		}
		a.RecoveryCodesRemaining = n
		a.UpdatedAt = now
		return true
	})
}

func (r *accountRepo) DecrementRecoveryCodes(_ context.Context, id string, now time.Time) error {
	return r.update(id, common.ErrConflict, func(a *models.Account) bool {
		if a.RecoveryCodesRemaining <= 0 {
			return false
		}
		a.RecoveryCodesRemaining--
		a.UpdatedAt = now
		return true
	})
}
