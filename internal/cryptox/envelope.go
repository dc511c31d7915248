package cryptox

import (
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/keeperauth/internal/common"
)

// Envelope is an encrypted vault item. ItemType is left in the clear so the
// server can filter without decrypting; it is bound to the ciphertext as
// additional data.
type Envelope struct {
	ItemType   string `json:"itemType"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// Seal serializes payload to JSON and encrypts it with the vault key.
func Seal(key *VaultKey, itemType string, payload any) (*Envelope, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	defer common.WipeByteArray(plaintext)

	env := &Envelope{ItemType: itemType}
	err = key.use(func(k []byte) error {
		gcm, err := newGCM(k)
		if err != nil {
			return err
		}
		env.Nonce = common.GenerateRandByteArray(gcm.NonceSize())
		env.Ciphertext = gcm.Seal(nil, env.Nonce, plaintext, []byte(itemType))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return env, nil
}

// Open decrypts env with the vault key and unmarshals the payload into v.
// A wrong key or a tampered envelope yields ErrDecrypt.
func Open(key *VaultKey, env *Envelope, v any) error {
	var plaintext []byte
	err := key.use(func(k []byte) error {
		gcm, err := newGCM(k)
		if err != nil {
			return err
		}
		if len(env.Nonce) != gcm.NonceSize() {
			return ErrDecrypt
		}
		plaintext, err = gcm.Open(nil, env.Nonce, env.Ciphertext, []byte(env.ItemType))
		if err != nil {
			return ErrDecrypt
		}
		return nil
	})
	if err != nil {
		return err
	}
	defer common.WipeByteArray(plaintext)

	return json.Unmarshal(plaintext, v)
}

// Reseal re-encrypts env from one key to another. Used after a master
// password change, when every local envelope moves to the new vault key.
func Reseal(from, to *VaultKey, env *Envelope) (*Envelope, error) {
	var raw json.RawMessage
	if err := Open(from, env, &raw); err != nil {
		return nil, err
	}
	return Seal(to, env.ItemType, raw)
}
