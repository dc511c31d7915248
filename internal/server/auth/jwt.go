// Package auth mints and verifies bearer tokens (HS256 JWTs).
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dmitrijs2005/keeperauth/internal/common"
)

// Claims is the bearer payload. Subject carries the account id and ID the
// token id (jti) used by the revocation ledger.
type Claims struct {
	jwt.RegisteredClaims
	AccountID string   `json:"aid"`
	Email     string   `json:"email"`
	Roles     []string `json:"roles,omitempty"`
}

// ExpiresAtTime returns the exp claim, or the zero time when absent.
func (c *Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// Issuer signs and parses bearer tokens with a shared secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer returns an HS256 Issuer whose tokens live for ttl.
func NewIssuer(secret []byte, ttl time.Duration) *Issuer {
	return &Issuer{secret: secret, ttl: ttl, now: time.Now}
}

// SetClock overrides the time source. Tests only.
func (i *Issuer) SetClock(now func() time.Time) { i.now = now }

// Generate mints a bearer token for the account and returns it with its claims.
func (i *Issuer) Generate(accountID, email string, roles []string) (string, *Claims, error) {
	now := i.now().UTC().Truncate(time.Second)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		AccountID: accountID,
		Email:     email,
		Roles:     roles,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return token, claims, nil
}

// Parse verifies signature, expiry and not-before.
func (i *Issuer) Parse(token string) (*Claims, error) {
	return i.parse(token, false)
}

// ParseAllowExpired verifies the signature only. It is used on logout, where
// an expired bearer is still a valid statement of which token to revoke.
func (i *Issuer) ParseAllowExpired(token string) (*Claims, error) {
	return i.parse(token, true)
}

func (i *Issuer) parse(token string, allowExpired bool) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	}
	if allowExpired {
		opts = []jwt.ParserOption{
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		}
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: expired", common.ErrInvalidToken)
		}
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.ID == "" || claims.AccountID == "" || claims.AccountID != claims.Subject {
		return nil, common.ErrInvalidToken
	}
	return claims, nil
}
