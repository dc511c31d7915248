package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/keeperauth/internal/common"
	"github.com/dmitrijs2005/keeperauth/internal/cryptox"
	"github.com/dmitrijs2005/keeperauth/internal/logging"
	"github.com/dmitrijs2005/keeperauth/internal/server"
	"github.com/dmitrijs2005/keeperauth/internal/server/config"
	"github.com/dmitrijs2005/keeperauth/internal/server/repositories/memory"
	"github.com/dmitrijs2005/keeperauth/internal/server/services"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"storage_driver":"memory","bcrypt_cost":4,"max_failed_logins":2}`), 0o600))
	return path
}

func fixedStorage(store *memory.Store) openFunc {
	return func(context.Context, *config.Config) (*server.Storage, error) {
		return &server.Storage{Runner: store, Repos: store}, nil
	}
}

func run(t *testing.T, open openFunc, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := newCommand(&out, open).Run(context.Background(), append([]string{"keeperadmin", "-c", writeConfig(t)}, args...))
	return out.String(), err
}

func TestMigrate(t *testing.T) {
	out, err := run(t, openStorage, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "migrations applied")
}

func TestSweep(t *testing.T) {
	out, err := run(t, openStorage, "sweep")
	require.NoError(t, err)
	assert.Equal(t, "removed 0 revoked tokens, 0 refresh tokens\n", out)
}

func TestUnlock(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.BcryptCost = 4
	cfg.MaxFailedLogins = 2
	creds, err := services.NewCredentialService(store, store, cfg, logging.Discard())
	require.NoError(t, err)

	_, err = creds.Register(ctx, "carol@example.com", "cHJvb2Y=", cryptox.LevelInteractive)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = creds.Verify(ctx, "carol@example.com", "d3Jvbmc=")
		require.ErrorIs(t, err, common.ErrInvalidCredentials)
	}
	_, err = creds.Verify(ctx, "carol@example.com", "cHJvb2Y=")
	require.ErrorIs(t, err, common.ErrAccountLocked)

	out, err := run(t, fixedStorage(store), "unlock", "carol@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "unlocked")

	_, err = creds.Verify(ctx, "carol@example.com", "cHJvb2Y=")
	assert.NoError(t, err)
}

func TestUnlock_Errors(t *testing.T) {
	_, err := run(t, openStorage, "unlock")
	assert.EqualError(t, err, "email is required")

	_, err = run(t, openStorage, "unlock", "ghost@example.com")
	assert.EqualError(t, err, "no account for ghost@example.com")
}
