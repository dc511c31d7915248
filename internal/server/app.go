// Package server wires the auth server together: storage, the optional redis
// revocation cache and NATS audit stream, the services, and the REST and gRPC
// health listeners.
package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/keeperauth/internal/logging"
	"github.com/dmitrijs2005/keeperauth/internal/server/auth"
	"github.com/dmitrijs2005/keeperauth/internal/server/cache"
	"github.com/dmitrijs2005/keeperauth/internal/server/config"
	"github.com/dmitrijs2005/keeperauth/internal/server/events"
	"github.com/dmitrijs2005/keeperauth/internal/server/rest"
	"github.com/dmitrijs2005/keeperauth/internal/server/services"

	gs "github.com/dmitrijs2005/keeperauth/internal/server/grpc"
)

// App owns every backend connection and the long-running servers.
type App struct {
	config   *config.Config
	logger   logging.Logger
	storage  *Storage
	redis    *redis.Client
	revCache *cache.RedisRevocationCache
	nats     *nats.Conn
	ledger   *services.RevocationLedger
	sessions *services.SessionService
}

// NewApp connects every backend named in c and builds the services. The
// caller must Close the App.
func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (app *App, err error) {
	app = &App{config: c, logger: logger}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	app.storage, err = OpenStorage(ctx, c)
	if err != nil {
		return nil, err
	}
	if err := app.storage.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrations: %w", err)
	}

	var revCache services.RevocationCache
	if c.RedisAddr != "" {
		app.redis, err = cache.Connect(ctx, c.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		app.revCache = cache.NewRedisRevocationCache(app.redis)
		revCache = app.revCache
	}

	pub := events.Fanout{events.NewLogPublisher(logger)}
	if c.NatsURL != "" {
		app.nats, err = events.ConnectNATS(c.NatsURL, logger)
		if err != nil {
			return nil, fmt.Errorf("nats: %w", err)
		}
		pub = append(pub, events.NewNATSPublisher(app.nats, c.NatsSubjectPrefix))
	}

	runner, repos := app.storage.Runner, app.storage.Repos
	issuer := auth.NewIssuer([]byte(c.SecretKey), c.AccessTokenValidityDuration)

	creds, err := services.NewCredentialService(runner, repos, c, logger)
	if err != nil {
		return nil, err
	}
	mfa, err := services.NewMfaService(runner, repos, creds, c, logger)
	if err != nil {
		return nil, err
	}
	tokens := services.NewTokenService(runner, repos, issuer, c)
	app.ledger = services.NewRevocationLedger(runner, repos, revCache, logger)
	app.sessions = services.NewSessionService(creds, tokens, app.ledger, mfa, issuer, pub, c, logger)

	return app, nil
}

// health fails when storage or the revocation cache stops answering.
func (app *App) health(ctx context.Context) error {
	if err := app.storage.Ping(ctx); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if app.revCache != nil {
		if err := app.revCache.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run serves until a termination signal arrives or a component fails.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")
	app.initSignalHandler(cancelFunc)

	restServer := rest.NewServer(app.config.EndpointAddrHTTP, app.sessions, app.health, app.logger)
	healthServer := gs.NewHealthServer(app.config.EndpointAddrGRPC, app.health, app.logger)
	sweeper := services.NewSweeper(app.ledger, app.config.SweepInterval, app.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return restServer.Run(ctx) })
	g.Go(func() error { return healthServer.Run(ctx) })
	g.Go(func() error { return sweeper.Run(ctx) })

	err := g.Wait()
	app.logger.Info(ctx, "App stopped")
	return err
}

// Close releases every backend connection.
func (app *App) Close() {
	if app.nats != nil {
		if err := app.nats.Drain(); err != nil {
			app.logger.Warn(context.Background(), "nats drain", "error", err)
		}
	}
	var errs []error
	if app.redis != nil {
		errs = append(errs, app.redis.Close())
	}
	if app.storage != nil {
		errs = append(errs, app.storage.Close())
	}
	if err := errors.Join(errs...); err != nil {
		app.logger.Warn(context.Background(), "close", "error", err)
	}
}
