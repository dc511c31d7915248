package server

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/keeperauth/internal/logging"
	"github.com/dmitrijs2005/keeperauth/internal/server/config"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.StorageDriver = config.StorageDriverMemory
	cfg.BcryptCost = 4
	cfg.EndpointAddrHTTP = freeAddr(t)
	cfg.EndpointAddrGRPC = "127.0.0.1:0"
	return cfg
}

func freeAddr(t *testing.T) string {
	t.Helper()
	lis, err := (&net.ListenConfig{}).Listen(context.Background(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())
	return addr
}

func TestOpenStorage_Memory(t *testing.T) {
	cfg := memoryConfig(t)
	s, err := OpenStorage(context.Background(), cfg)
	require.NoError(t, err)
	assert.Nil(t, s.DB)
	assert.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, s.Close())
}

func TestOpenStorage_UnknownDriver(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.StorageDriver = "mongo"
	_, err := OpenStorage(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNewApp_RedisUnreachable(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.RedisAddr = "127.0.0.1:1"
	_, err := NewApp(context.Background(), cfg, logging.Discard())
	assert.Error(t, err)
}

func TestApp_RunServesAndStops(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.RedisAddr = miniredis.RunT(t).Addr()

	app, err := NewApp(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	defer app.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + cfg.EndpointAddrHTTP + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
}

func TestApp_HealthFollowsRedis(t *testing.T) {
	cfg := memoryConfig(t)
	mr := miniredis.RunT(t)
	cfg.RedisAddr = mr.Addr()

	app, err := NewApp(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	defer app.Close()

	require.NoError(t, app.health(context.Background()))

	mr.Close()
	err = app.health(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
}

func TestApp_HealthWithoutRedis(t *testing.T) {
	app, err := NewApp(context.Background(), memoryConfig(t), logging.Discard())
	require.NoError(t, err)
	defer app.Close()

	assert.NoError(t, app.health(context.Background()))
}
