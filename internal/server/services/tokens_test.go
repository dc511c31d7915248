package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/keeperauth/internal/common"
	"github.com/dmitrijs2005/keeperauth/internal/server/models"
)

func TestIssuePair(t *testing.T) {
	env := newTestEnv(t, nil)
	pair := env.register(t)

	assert.NotEmpty(t, pair.AccessToken)
	assert.Len(t, pair.RefreshToken, 2*refreshTokenBytes)
	assert.Equal(t, env.clock.Now().Add(env.cfg.AccessTokenValidityDuration), pair.AccessExpiresAt)
	assert.Equal(t, env.clock.Now().Add(env.cfg.RefreshTokenValidityDuration), pair.RefreshExpiresAt)

	claims, err := env.issuer.Parse(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, pair.Account.ID, claims.AccountID)
	assert.Equal(t, testEmail, claims.Email)
	assert.Equal(t, []string{common.RoleUser}, claims.Roles)

	stored, err := env.store.RefreshTokens(nil).FindByHash(context.Background(), HashRefreshToken(pair.RefreshToken))
	require.NoError(t, err)
	assert.Equal(t, pair.Account.ID, stored.AccountID)
	assert.Nil(t, stored.ReplacedBy)
}

func TestRotate_SingleUse(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	first := env.register(t)

	second, err := env.tokens.Rotate(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	old, err := env.store.RefreshTokens(nil).FindByHash(ctx, HashRefreshToken(first.RefreshToken))
	require.NoError(t, err)
	assert.True(t, old.Revoked)
	assert.Equal(t, models.RevokeReasonRotated, old.RevokeReason)
	next, err := env.store.RefreshTokens(nil).FindByHash(ctx, HashRefreshToken(second.RefreshToken))
	require.NoError(t, err)
	require.NotNil(t, old.ReplacedBy)
	assert.Equal(t, next.ID, *old.ReplacedBy)

	_, err = env.tokens.Rotate(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
	var reuse *ReuseError
	require.True(t, errors.As(err, &reuse))
	assert.Equal(t, first.Account.ID, reuse.AccountID)
}

func TestRotate_ConcurrentRaceHasOneWinner(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	pair := env.register(t)

	const racers = 8
	var (
		wg     sync.WaitGroup
		start  = make(chan struct{})
		errs   = make([]error, racers)
		tokens = make([]*TokenPair, racers)
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			tokens[i], errs[i] = env.tokens.Rotate(ctx, pair.RefreshToken)
		}(i)
	}
	close(start)
	wg.Wait()

	wins := 0
	for i, err := range errs {
		if err == nil {
			wins++
			assert.NotNil(t, tokens[i])
			continue
		}
		assert.ErrorIs(t, err, common.ErrInvalidToken)
	}
	assert.Equal(t, 1, wins)
}

func TestRotate_InvalidTokens(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	pair := env.register(t)

	_, err := env.tokens.Rotate(ctx, "")
	assert.ErrorIs(t, err, common.ErrInvalidToken)
	_, err = env.tokens.Rotate(ctx, "unknown")
	assert.ErrorIs(t, err, common.ErrInvalidToken)

	env.clock.Advance(env.cfg.RefreshTokenValidityDuration + time.Second)
	_, err = env.tokens.Rotate(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
	var reuse *ReuseError
	assert.False(t, errors.As(err, &reuse))
}

func TestRotate_RevokedIsNotReuse(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	pair := env.register(t)

	require.NoError(t, env.tokens.Revoke(ctx, pair.RefreshToken, models.RevokeReasonLogout))
	_, err := env.tokens.Rotate(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
	var reuse *ReuseError
	assert.False(t, errors.As(err, &reuse))
}

func TestRotate_LockedAccount(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	pair := env.register(t)

	for i := 0; i < env.cfg.MaxFailedLogins; i++ {
		_, _ = env.creds.Verify(ctx, testEmail, "wrong")
	}
	_, err := env.tokens.Rotate(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestRevoke_BestEffort(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	assert.NoError(t, env.tokens.Revoke(ctx, "", models.RevokeReasonLogout))
	assert.NoError(t, env.tokens.Revoke(ctx, "never-issued", models.RevokeReasonLogout))
}

func TestRevokeAll(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	pair := env.register(t)
	_, err := env.tokens.IssuePair(ctx, pair.Account)
	require.NoError(t, err)

	n, err := env.tokens.RevokeAll(ctx, pair.Account.ID, models.RevokeReasonLogoutAll)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	_, err = env.tokens.Rotate(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}
