// Package repomanager vends repositories bound to a database handle or a
// transaction, plus the schema migration hook.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/keeperauth/internal/dbx"
	"github.com/dmitrijs2005/keeperauth/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/keeperauth/internal/server/repositories/recoverycodes"
	"github.com/dmitrijs2005/keeperauth/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/keeperauth/internal/server/repositories/revokedtokens"
)

// RepositoryManager vends repositories bound to a database handle or a
// transaction, and applies schema migrations.
type RepositoryManager interface {
	RunMigrations(ctx context.Context, db *sql.DB) error
	Accounts(db dbx.DBTX) accounts.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	RevokedTokens(db dbx.DBTX) revokedtokens.Repository
	RecoveryCodes(db dbx.DBTX) recoverycodes.Repository
}
