// Package cryptox holds the client-side key derivation contract and the
// authenticated encryption helpers shared by client and server.
package cryptox

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dmitrijs2005/keeperauth/internal/common"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/text/unicode/norm"
)

// SecurityLevel selects the Argon2id cost tier. The chosen level is stored
// on the account in the clear so the client can replay it at login.
type SecurityLevel int

const (
	LevelInteractive SecurityLevel = iota + 1
	LevelModerate
	LevelStrong
	LevelParanoid
)

// DefaultSecurityLevel is used for new accounts when the caller does not pick one.
const DefaultSecurityLevel = LevelModerate

var ErrUnknownSecurityLevel = errors.New("unknown security level")

// KDFParams is one Argon2id cost tuple.
type KDFParams struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

var kdfTiers = map[SecurityLevel]KDFParams{
	LevelInteractive: {Time: 2, MemoryKiB: 32 * 1024, Threads: 2},
	LevelModerate:    {Time: 3, MemoryKiB: 64 * 1024, Threads: 2},
	LevelStrong:      {Time: 3, MemoryKiB: 128 * 1024, Threads: 4},
	LevelParanoid:    {Time: 4, MemoryKiB: 256 * 1024, Threads: 4},
}

// Params returns the cost tuple for l.
func (l SecurityLevel) Params() (KDFParams, error) {
	p, ok := kdfTiers[l]
	if !ok {
		return KDFParams{}, fmt.Errorf("%w: %d", ErrUnknownSecurityLevel, int(l))
	}
	return p, nil
}

func (l SecurityLevel) Valid() bool {
	_, ok := kdfTiers[l]
	return ok
}

func (l SecurityLevel) String() string {
	switch l {
	case LevelInteractive:
		return "interactive"
	case LevelModerate:
		return "moderate"
	case LevelStrong:
		return "strong"
	case LevelParanoid:
		return "paranoid"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

const (
	saltContext   = "keeperauth/v1/salt:"
	authProofInfo = "keeperauth/v1/auth-proof"
	vaultKeyInfo  = "keeperauth/v1/vault-key"
	derivedKeyLen = 32
)

// DerivedKeys is the output of Derive. AuthProof is sent to the server,
// VaultKey never leaves the client.
type DerivedKeys struct {
	AuthProof []byte
	VaultKey  *VaultKey
}

// ProofString encodes the proof for transport.
func (d DerivedKeys) ProofString() string {
	return base64.StdEncoding.EncodeToString(d.AuthProof)
}

// NormalizeEmail folds an email to the form used both as KDF salt input and
// as the account lookup key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFKC.String(email)))
}

// Derive turns (email, masterSecret, level) into an authentication proof and
// a vault key. The two outputs are independent HKDF expansions of one
// Argon2id master key, so knowing one reveals nothing about the other. The
// same inputs always produce the same outputs.
func Derive(email, masterSecret string, level SecurityLevel) (DerivedKeys, error) {
	p, err := level.Params()
	if err != nil {
		return DerivedKeys{}, err
	}

	email = NormalizeEmail(email)
	secret := []byte(norm.NFKC.String(masterSecret))
	defer common.WipeByteArray(secret)

	salt := sha256.Sum256([]byte(saltContext + email))
	master := argon2.IDKey(secret, salt[:], p.Time, p.MemoryKiB, p.Threads, derivedKeyLen)
	defer common.WipeByteArray(master)

	proof, err := expand(master, email, authProofInfo, level)
	if err != nil {
		return DerivedKeys{}, err
	}
	key, err := expand(master, email, vaultKeyInfo, level)
	if err != nil {
		return DerivedKeys{}, err
	}

	return DerivedKeys{AuthProof: proof, VaultKey: NewVaultKey(key)}, nil
}

func expand(master []byte, email, info string, level SecurityLevel) ([]byte, error) {
	r := hkdf.New(sha256.New, master, []byte(email), fmt.Appendf(nil, "%s/level-%d", info, level))
	out := make([]byte, derivedKeyLen)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("hkdf expand %s: %w", info, err)
	}
	return out, nil
}
