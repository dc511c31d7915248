package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/keeperauth/internal/dbx"
	"github.com/dmitrijs2005/keeperauth/internal/server/migrations"
	"github.com/dmitrijs2005/keeperauth/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/keeperauth/internal/server/repositories/recoverycodes"
	"github.com/dmitrijs2005/keeperauth/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/keeperauth/internal/server/repositories/revokedtokens"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager vends PostgreSQL repositories.
type PostgresRepositoryManager struct{}

// NewPostgresRepositoryManager returns a manager for Postgres repositories.
func NewPostgresRepositoryManager() *PostgresRepositoryManager {
	return &PostgresRepositoryManager{}
}

// Accounts returns an accounts.Repository bound to db, either a *sql.DB or
// a *sql.Tx.
func (m *PostgresRepositoryManager) Accounts(db dbx.DBTX) accounts.Repository {
	return accounts.NewPostgresRepository(db)
}

// RefreshTokens returns a refreshtokens.Repository bound to db.
func (m *PostgresRepositoryManager) RefreshTokens(db dbx.DBTX) refreshtokens.Repository {
	return refreshtokens.NewPostgresRepository(db)
}

// RevokedTokens returns a revokedtokens.Repository bound to db.
func (m *PostgresRepositoryManager) RevokedTokens(db dbx.DBTX) revokedtokens.Repository {
	return revokedtokens.NewPostgresRepository(db)
}

// RecoveryCodes returns a recoverycodes.Repository bound to db.
func (m *PostgresRepositoryManager) RecoveryCodes(db dbx.DBTX) recoverycodes.Repository {
	return recoverycodes.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded goose migrations.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

// OpenPostgres opens a pgx-backed *sql.DB and checks the connection.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
