package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcore/internal/model"
)

func newUserRepoWithMock(t *testing.T) (*UserRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewUserRepository(db), mock, db
}

func TestUserRepository_FindByUsername_Found(t *testing.T) {
	repo, mock, db := newUserRepoWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "username", "password_hash", "created_at"}).
		AddRow(int64(1), "alice", "pbkdf2$...", time.Unix(0, 0))
	mock.ExpectQuery(`SELECT id, username, password_hash, created_at FROM users WHERE username = \?`).
		WithArgs("alice").
		WillReturnRows(rows)

	user, err := repo.FindByUsername(context.Background(), " Alice ")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "alice", user.Username)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_FindByUsername_NotFound(t *testing.T) {
	repo, mock, db := newUserRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT id, username, password_hash, created_at FROM users WHERE username = \?`).
		WithArgs("nobody").
		WillReturnError(sql.ErrNoRows)

	user, err := repo.FindByUsername(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestUserRepository_FindByUsername_Blank(t *testing.T) {
	repo, _, db := newUserRepoWithMock(t)
	defer db.Close()

	user, err := repo.FindByUsername(context.Background(), "   ")
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestUserRepository_FindByUsername_StorageError(t *testing.T) {
	repo, mock, db := newUserRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT id, username, password_hash, created_at FROM users WHERE username = \?`).
		WithArgs("alice").
		WillReturnError(errors.New("connection reset"))

	_, err := repo.FindByUsername(context.Background(), "alice")
	require.Error(t, err)
	assert.True(t, IsStorageError(err))
}

func TestUserRepository_Save_Insert(t *testing.T) {
	repo, mock, db := newUserRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO users \(username, password_hash, created_at\) VALUES \(\?, \?, \?\)`).
		WithArgs("alice", "hash", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(7, 1))

	user := &model.User{Username: "alice", PasswordHash: "hash"}
	err := repo.Save(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, int64(7), user.ID)
}

func TestUserRepository_Save_RejectsBlankUsername(t *testing.T) {
	repo, _, db := newUserRepoWithMock(t)
	defer db.Close()

	err := repo.Save(context.Background(), &model.User{Username: "  ", PasswordHash: "hash"})
	require.Error(t, err)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestUserRepository_ExistsByUsername(t *testing.T) {
	repo, mock, db := newUserRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT 1 FROM users WHERE username = \?`).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	exists, err := repo.ExistsByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, exists)
}
