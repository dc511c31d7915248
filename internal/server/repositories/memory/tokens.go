package memory

import (
	"context"
	"time"

	"github.com/dmitrijs2005/keeperauth/internal/common"
	"github.com/dmitrijs2005/keeperauth/internal/server/models"
	"github.com/google/uuid"
)

type refreshRepo struct{ conn }

func (r *refreshRepo) Create(_ context.Context, t *models.RefreshToken) error {
	return r.locked(func(d *data) error {
		if _, ok := d.refresh[t.TokenHash]; ok {
			return common.ErrConflict
		}
		d.refresh[t.TokenHash] = *t
		return nil
	})
}

func (r *refreshRepo) FindByHash(_ context.Context, hash string) (*models.RefreshToken, error) {
	var out *models.RefreshToken
	err := r.locked(func(d *data) error {
		t, ok := d.refresh[hash]
		if !ok {
			return common.ErrorNotFound
		}
		out = &t
		return nil
	})
	return out, err
}

func (r *refreshRepo) Consume(_ context.Context, hash, successorID string, now time.Time) (*models.RefreshToken, error) {
	var out *models.RefreshToken
	err := r.locked(func(d *data) error {
		t, ok := d.refresh[hash]
		if !ok || !t.Active(now) {
			return common.ErrorNotFound
		}
		t.Revoked = true
		t.RevokedAt = &now
		t.RevokeReason = models.RevokeReasonRotated
		t.ReplacedBy = &successorID
		d.refresh[hash] = t
		out = &t
		return nil
	})
	return out, err
}

func (r *refreshRepo) Revoke(_ context.Context, hash, reason string, now time.Time) (bool, error) {
	var changed bool
	err := r.locked(func(d *data) error {
		t, ok := d.refresh[hash]
		if !ok || t.Revoked {
			return nil
		}
		t.Revoked, t.RevokedAt, t.RevokeReason = true, &now, reason
		d.refresh[hash] = t
		changed = true
		return nil
	})
	return changed, err
}

func (r *refreshRepo) RevokeAllForAccount(_ context.Context, accountID, reason string, now time.Time) (int64, error) {
	var n int64
	err := r.locked(func(d *data) error {
		for h, t := range d.refresh {
			if t.AccountID != accountID || t.Revoked {
				continue
			}
			t.Revoked, t.RevokedAt, t.RevokeReason = true, &now, reason
			d.refresh[h] = t
			n++
		}
		return nil
	})
	return n, err
}

func (r *refreshRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	var n int64
	err := r.locked(func(d *data) error {
		for h, t := range d.refresh {
			if !t.ExpiresAt.After(now) {
				delete(d.refresh, h)
				n++
			}
		}
		return nil
	})
	return n, err
}

type revokedRepo struct{ conn }

func (r *revokedRepo) Add(_ context.Context, e *models.RevokedToken) (bool, error) {
	var inserted bool
	err := r.locked(func(d *data) error {
		if _, ok := d.revoked[e.TokenID]; ok {
			return nil
		}
		d.revoked[e.TokenID] = *e
		inserted = true
		return nil
	})
	return inserted, err
}

func (r *revokedRepo) Exists(_ context.Context, tokenID string, now time.Time) (bool, error) {
	var found bool
	err := r.locked(func(d *data) error {
		e, ok := d.revoked[tokenID]
		found = ok && e.ExpiresAt.After(now)
		return nil
	})
	return found, err
}

func (r *revokedRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	var n int64
	err := r.locked(func(d *data) error {
		for id, e := range d.revoked {
			if !e.ExpiresAt.After(now) {
				delete(d.revoked, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

type codeRepo struct{ conn }

func (r *codeRepo) CreateBatch(_ context.Context, accountID string, hashes []string, now time.Time) error {
	return r.locked(func(d *data) error {
		for _, h := range hashes {
			id := uuid.NewString()
			d.codes[id] = models.RecoveryCode{ID: id, AccountID: accountID, CodeHash: h, CreatedAt: now}
		}
		return nil
	})
}

func (r *codeRepo) Consume(_ context.Context, accountID, hash string, now time.Time) (bool, error) {
	var ok bool
	err := r.locked(func(d *data) error {
		for id, c := range d.codes {
			if c.AccountID == accountID && c.CodeHash == hash && !c.Used {
				c.Used, c.UsedAt = true, &now
				d.codes[id] = c
				ok = true
				return nil
			}
		}
		return nil
	})
	return ok, err
}

func (r *codeRepo) DeleteAll(_ context.Context, accountID string) (int64, error) {
	var n int64
	err := r.locked(func(d *data) error {
		for id, c := range d.codes {
			if c.AccountID == accountID {
				delete(d.codes, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *codeRepo) CountUnused(_ context.Context, accountID string) (int, error) {
	var n int
	err := r.locked(func(d *data) error {
		for _, c := range d.codes {
			if c.AccountID == accountID && !c.Used {
				n++
			}
		}
		return nil
	})
	return n, err
}
