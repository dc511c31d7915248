package services

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

const (
	recoveryCodeAlphabet = "23456789abcdefghjkmnpqrstuvwxyz"
	recoveryCodeLen      = 12
	recoveryGroupLen     = 4
)

func newRecoveryCode() (string, error) {
	var b strings.Builder
	b.Grow(recoveryCodeLen)
	limit := big.NewInt(int64(len(recoveryCodeAlphabet)))
	for i := 0; i < recoveryCodeLen; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(recoveryCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// FormatRecoveryCode renders a canonical code as xxxx-xxxx-xxxx.
func FormatRecoveryCode(code string) string {
	var parts []string
	for len(code) > recoveryGroupLen {
		parts = append(parts, code[:recoveryGroupLen])
		code = code[recoveryGroupLen:]
	}
	return strings.Join(append(parts, code), "-")
}

// CanonicalRecoveryCode strips separators and case so that any way a user
// retypes a code hashes the same.
func CanonicalRecoveryCode(code string) string {
	s := strings.ToLower(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

func recoveryCodeHash(accountID, canonical string) string {
	data := make([]byte, 0, len(accountID)+1+len(canonical))
	data = append(data, accountID...)
	data = append(data, 0)
	data = append(data, canonical...)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// generateRecoveryCodes returns n formatted codes and their hashes.
func generateRecoveryCodes(accountID string, n int) ([]string, []string, error) {
	codes := make([]string, 0, n)
	hashes := make([]string, 0, n)
	for i := 0; i < n; i++ {
		c, err := newRecoveryCode()
		if err != nil {
			return nil, nil, fmt.Errorf("recovery code: %w", err)
		}
		codes = append(codes, FormatRecoveryCode(c))
		hashes = append(hashes, recoveryCodeHash(accountID, c))
	}
	return codes, hashes, nil
}
