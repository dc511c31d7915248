package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRefreshToken_Active(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		tok  RefreshToken
		want bool
	}{
		{"fresh", RefreshToken{ExpiresAt: now.Add(time.Hour)}, true},
		{"expired", RefreshToken{ExpiresAt: now.Add(-time.Second)}, false},
		{"expires exactly now", RefreshToken{ExpiresAt: now}, false},
		{"revoked", RefreshToken{ExpiresAt: now.Add(time.Hour), Revoked: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.tok.Active(now))
		})
	}
}

func TestAccount_Roles(t *testing.T) {
	assert.Equal(t, []string{"admin"}, (&Account{Role: "admin"}).Roles())
	assert.Nil(t, (&Account{}).Roles())
}
