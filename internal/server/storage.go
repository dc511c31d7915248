package server

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/keeperauth/internal/dbx"
	"github.com/dmitrijs2005/keeperauth/internal/server/config"
	"github.com/dmitrijs2005/keeperauth/internal/server/repositories/memory"
	"github.com/dmitrijs2005/keeperauth/internal/server/repositories/repomanager"
)

// Storage bundles the transaction runner and repository factory selected by
// the configured driver.
type Storage struct {
	Runner dbx.TxRunner
	Repos  repomanager.RepositoryManager
	// DB is nil for the memory driver.
	DB *sql.DB
}

// OpenStorage connects to the configured backend. Migrations are not applied.
func OpenStorage(ctx context.Context, cfg *config.Config) (*Storage, error) {
	switch cfg.StorageDriver {
	case config.StorageDriverMemory:
		store := memory.NewStore()
		return &Storage{Runner: store, Repos: store}, nil
	case config.StorageDriverPostgres:
		db, err := repomanager.OpenPostgres(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
		return &Storage{
			Runner: dbx.NewSQLRunner(db, nil),
			Repos:  repomanager.NewPostgresRepositoryManager(),
			DB:     db,
		}, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

// Migrate brings the schema up to date.
func (s *Storage) Migrate(ctx context.Context) error {
	return s.Repos.RunMigrations(ctx, s.DB)
}

// Ping checks that the backend is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	if s.DB == nil {
		return nil
	}
	return s.DB.PingContext(ctx)
}

// Close releases the database handle, if any.
func (s *Storage) Close() error {
	if s.DB == nil {
		return nil
	}
	return s.DB.Close()
}
