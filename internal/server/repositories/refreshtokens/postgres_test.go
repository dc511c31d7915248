package refreshtokens

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/keeperauth/internal/common"
	"github.com/dmitrijs2005/keeperauth/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewPostgresRepository(db), mock
}

func TestCreate(t *testing.T) {
	q := `(?s)^INSERT\s+INTO\s+refresh_tokens\s*\(id,\s*account_id,\s*token_hash,\s*issued_at,\s*expires_at\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*\$5\)$`
	now := time.Now()
	tok := &models.RefreshToken{ID: "t1", AccountID: "a1", TokenHash: "h1", IssuedAt: now, ExpiresAt: now.Add(time.Hour)}

	t.Run("ok", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectExec(q).WithArgs("t1", "a1", "h1", now, now.Add(time.Hour)).WillReturnResult(sqlmock.NewResult(0, 1))
		require.NoError(t, repo.Create(context.Background(), tok))
	})

	t.Run("db error", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectExec(q).WillReturnError(errors.New("db down"))
		err := repo.Create(context.Background(), tok)
		require.Error(t, err)
		assert.Regexp(t, regexp.MustCompile(`db error: .*db down`), err.Error())
	})
}

func TestFindByHash(t *testing.T) {
	q := `(?s)^SELECT\s+id,\s*account_id,\s*token_hash,.*FROM\s+refresh_tokens\s+WHERE\s+token_hash\s*=\s*\$1$`
	cols := []string{"id", "account_id", "token_hash", "issued_at", "expires_at", "revoked", "revoked_at", "revoke_reason", "replaced_by"}
	now := time.Now()

	t.Run("rotated token", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectQuery(q).WithArgs("h1").WillReturnRows(
			sqlmock.NewRows(cols).AddRow("t1", "a1", "h1", now, now.Add(time.Hour), true, now, "rotated", "t2"))

		got, err := repo.FindByHash(context.Background(), "h1")
		require.NoError(t, err)
		assert.True(t, got.Revoked)
		assert.Equal(t, models.RevokeReasonRotated, got.RevokeReason)
		require.NotNil(t, got.ReplacedBy)
		assert.Equal(t, "t2", *got.ReplacedBy)
		require.NotNil(t, got.RevokedAt)
	})

	t.Run("active token", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectQuery(q).WithArgs("h1").WillReturnRows(
			sqlmock.NewRows(cols).AddRow("t1", "a1", "h1", now, now.Add(time.Hour), false, nil, "", nil))

		got, err := repo.FindByHash(context.Background(), "h1")
		require.NoError(t, err)
		assert.True(t, got.Active(now))
		assert.Nil(t, got.ReplacedBy)
		assert.Nil(t, got.RevokedAt)
	})

	t.Run("unknown", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectQuery(q).WithArgs("nope").WillReturnError(sql.ErrNoRows)
		_, err := repo.FindByHash(context.Background(), "nope")
		assert.ErrorIs(t, err, common.ErrorNotFound)
	})
}

func TestConsume(t *testing.T) {
	q := `(?s)^UPDATE\s+refresh_tokens\s+SET\s+revoked\s*=\s*TRUE,.*replaced_by\s*=\s*\$2\s+WHERE\s+token_hash\s*=\s*\$1\s+AND\s+NOT\s+revoked\s+AND\s+expires_at\s*>\s*\$3\s+RETURNING\s+id,\s*account_id,\s*issued_at,\s*expires_at$`
	now := time.Now()

	t.Run("winner", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectQuery(q).WithArgs("h1", "t2", now).WillReturnRows(
			sqlmock.NewRows([]string{"id", "account_id", "issued_at", "expires_at"}).AddRow("t1", "a1", now.Add(-time.Hour), now.Add(time.Hour)))

		got, err := repo.Consume(context.Background(), "h1", "t2", now)
		require.NoError(t, err)
		assert.Equal(t, "a1", got.AccountID)
		assert.True(t, got.Revoked)
		assert.Equal(t, "t2", *got.ReplacedBy)
		assert.Equal(t, models.RevokeReasonRotated, got.RevokeReason)
	})

	t.Run("already consumed or expired", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectQuery(q).WithArgs("h1", "t3", now).WillReturnError(sql.ErrNoRows)
		_, err := repo.Consume(context.Background(), "h1", "t3", now)
		assert.ErrorIs(t, err, common.ErrorNotFound)
	})
}

func TestRevoke(t *testing.T) {
	q := `(?s)^UPDATE\s+refresh_tokens\s+SET\s+revoked\s*=\s*TRUE,\s*revoked_at\s*=\s*\$3,\s*revoke_reason\s*=\s*\$2\s+WHERE\s+token_hash\s*=\s*\$1\s+AND\s+NOT\s+revoked$`
	now := time.Now()
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(q).WithArgs("h1", "logout", now).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs("h1", "logout", now).WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Revoke(context.Background(), "h1", models.RevokeReasonLogout, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Revoke(context.Background(), "h1", models.RevokeReasonLogout, now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRevokeAllForAccount(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now()
	mock.ExpectExec(`(?s)^UPDATE\s+refresh_tokens\s+SET.*WHERE\s+account_id\s*=\s*\$1\s+AND\s+NOT\s+revoked$`).
		WithArgs("a1", "password_change", now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.RevokeAllForAccount(context.Background(), "a1", models.RevokeReasonPasswordChange, now)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestDeleteExpired(t *testing.T) {
	q := `^DELETE\s+FROM\s+refresh_tokens\s+WHERE\s+expires_at\s*<=\s*\$1$`
	now := time.Now()

	t.Run("ok", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectExec(q).WithArgs(now).WillReturnResult(sqlmock.NewResult(0, 7))
		n, err := repo.DeleteExpired(context.Background(), now)
		require.NoError(t, err)
		assert.EqualValues(t, 7, n)
	})

	t.Run("db error", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectExec(q).WithArgs(now).WillReturnError(errors.New("db err"))
		_, err := repo.DeleteExpired(context.Background(), now)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "db error: db err")
	})
}
