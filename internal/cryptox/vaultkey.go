package cryptox

import (
	"errors"
	"sync"

	"github.com/dmitrijs2005/keeperauth/internal/common"
)

var ErrVaultKeyCleared = errors.New("vault key cleared")

// VaultKey is the client-held encryption key for a single session. It is
// passed explicitly to whoever needs it and wiped with Clear on logout.
type VaultKey struct {
	mu  sync.RWMutex
	key []byte
}

// NewVaultKey takes ownership of key; the caller must not keep a reference.
func NewVaultKey(key []byte) *VaultKey {
	return &VaultKey{key: key}
}

// use runs fn with the raw key under the read lock.
func (k *VaultKey) use(fn func(key []byte) error) error {
	if k == nil {
		return ErrVaultKeyCleared
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.key == nil {
		return ErrVaultKeyCleared
	}
	return fn(k.key)
}

// Bytes returns a copy of the key. The caller should wipe it after use.
func (k *VaultKey) Bytes() ([]byte, error) {
	var out []byte
	err := k.use(func(key []byte) error {
		out = append([]byte(nil), key...)
		return nil
	})
	return out, err
}

// Cleared reports whether Clear has been called.
func (k *VaultKey) Cleared() bool {
	if k == nil {
		return true
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.key == nil
}

// Clear zeroes the key. Safe to call more than once.
func (k *VaultKey) Clear() {
	if k == nil {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	common.WipeByteArray(k.key)
	k.key = nil
}
