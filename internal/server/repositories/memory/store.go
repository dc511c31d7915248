// Package memory is an in-process implementation of every repository, for
// development runs (storage driver "memory") and service tests.
//
// Transactions are serialized and rolled back by restoring a snapshot.
// Repositories bound to anything other than the running transaction wait
// for it to finish, so a rollback never discards their writes. A repository
// bound to the outer handle must not be used inside WithTx.
package memory

import (
	"context"
	"database/sql"
	"maps"
	"sync"

	"github.com/dmitrijs2005/keeperauth/internal/dbx"
	"github.com/dmitrijs2005/keeperauth/internal/server/models"
	"github.com/dmitrijs2005/keeperauth/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/keeperauth/internal/server/repositories/recoverycodes"
	"github.com/dmitrijs2005/keeperauth/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/keeperauth/internal/server/repositories/revokedtokens"
)

type data struct {
	accounts map[string]models.Account      // by id
	emails   map[string]string              // email -> id
	refresh  map[string]models.RefreshToken // by token hash
	revoked  map[string]models.RevokedToken // by token id
	codes    map[string]models.RecoveryCode // by id
}

func (d *data) clone() *data {
	return &data{
		accounts: maps.Clone(d.accounts),
		emails:   maps.Clone(d.emails),
		refresh:  maps.Clone(d.refresh),
		revoked:  maps.Clone(d.revoked),
		codes:    maps.Clone(d.codes),
	}
}

// txConn is the handle WithTx passes to fn. Its methods are never called.
type txConn struct{ dbx.DBTX }

// conn is a repository's view of the store.
type conn struct {
	s    *Store
	inTx bool
}

func (s *Store) bind(db dbx.DBTX) conn {
	_, inTx := db.(*txConn)
	return conn{s: s, inTx: inTx}
}

// locked runs fn under the data lock. Outside a transaction it first waits
// for any running one.
func (c conn) locked(fn func(d *data) error) error {
	if !c.inTx {
		c.s.txMu.Lock()
		defer c.s.txMu.Unlock()
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	return fn(c.s.d)
}

// Store holds all tables. It implements repomanager.RepositoryManager and
// dbx.TxRunner.
type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex
	d    *data
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{d: &data{
		accounts: map[string]models.Account{},
		emails:   map[string]string{},
		refresh:  map[string]models.RefreshToken{},
		revoked:  map[string]models.RevokedToken{},
		codes:    map[string]models.RecoveryCode{},
	}}
}

func (s *Store) DB() dbx.DBTX { return nil }

// WithTx runs fn with exclusive access to transactional work and restores
// the previous state if fn fails or panics.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) (err error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.d.clone()
	s.mu.Unlock()

	defer func() {
		if p := recover(); p != nil {
			s.restore(snapshot)
			panic(p)
		}
		if err != nil {
			s.restore(snapshot)
		}
	}()

	return fn(ctx, &txConn{})
}

func (s *Store) restore(d *data) {
	s.mu.Lock()
	s.d = d
	s.mu.Unlock()
}

func (s *Store) RunMigrations(context.Context, *sql.DB) error { return nil }

// Accounts returns an accounts.Repository bound to db.
func (s *Store) Accounts(db dbx.DBTX) accounts.Repository { return &accountRepo{s.bind(db)} }

// RefreshTokens returns a refreshtokens.Repository bound to db.
func (s *Store) RefreshTokens(db dbx.DBTX) refreshtokens.Repository {
	return &refreshRepo{s.bind(db)}
}

// RevokedTokens returns a revokedtokens.Repository bound to db.
func (s *Store) RevokedTokens(db dbx.DBTX) revokedtokens.Repository {
	return &revokedRepo{s.bind(db)}
}

// RecoveryCodes returns a recoverycodes.Repository bound to db.
func (s *Store) RecoveryCodes(db dbx.DBTX) recoverycodes.Repository {
	return &codeRepo{s.bind(db)}
}
