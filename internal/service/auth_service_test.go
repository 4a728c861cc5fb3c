package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcore/internal/repository"
	"chatcore/pkg/password"
)

func newAuthServiceWithMock(t *testing.T) (*AuthService, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	users := repository.NewUserRepository(db)
	hasher := password.NewHasher(4, true)
	return NewAuthService(users, hasher), mock, db
}

func TestAuthService_Register_Success(t *testing.T) {
	svc, mock, db := newAuthServiceWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT 1 FROM users WHERE username = \?`).
		WithArgs("alice").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO users \(username, password_hash, created_at\) VALUES \(\?, \?, \?\)`).
		WithArgs("alice", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	result := svc.Register(context.Background(), "Alice", "hunter22")
	require.True(t, result.Ok())
	assert.Equal(t, "alice", result.Username)
}

func TestAuthService_Register_RejectsShortPassword(t *testing.T) {
	svc, _, db := newAuthServiceWithMock(t)
	defer db.Close()

	result := svc.Register(context.Background(), "alice", "abc")
	require.False(t, result.Ok())
	assert.Equal(t, CodeValidationError, result.Code)
}

func TestAuthService_Register_UserExists(t *testing.T) {
	svc, mock, db := newAuthServiceWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT 1 FROM users WHERE username = \?`).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	result := svc.Register(context.Background(), "alice", "hunter22")
	require.False(t, result.Ok())
	assert.Equal(t, CodeUserExists, result.Code)
}

func TestAuthService_Login_Success(t *testing.T) {
	svc, mock, db := newAuthServiceWithMock(t)
	defer db.Close()

	hash, err := password.NewHasher(4, true).Hash("hunter22")
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"id", "username", "password_hash", "created_at"}).
		AddRow(int64(1), "alice", hash, time.Now())
	mock.ExpectQuery(`SELECT id, username, password_hash, created_at FROM users WHERE username = \?`).
		WithArgs("alice").
		WillReturnRows(rows)

	result := svc.Login(context.Background(), "alice", "hunter22")
	require.True(t, result.Ok())
	assert.Equal(t, "alice", result.Username)
}

func TestAuthService_Login_WrongPassword(t *testing.T) {
	svc, mock, db := newAuthServiceWithMock(t)
	defer db.Close()

	hash, err := password.NewHasher(4, true).Hash("correct-password")
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"id", "username", "password_hash", "created_at"}).
		AddRow(int64(1), "alice", hash, time.Now())
	mock.ExpectQuery(`SELECT id, username, password_hash, created_at FROM users WHERE username = \?`).
		WithArgs("alice").
		WillReturnRows(rows)

	result := svc.Login(context.Background(), "alice", "wrong-password")
	require.False(t, result.Ok())
	assert.Equal(t, CodeInvalidPassword, result.Code)
}

func TestAuthService_Login_UserNotFound(t *testing.T) {
	svc, mock, db := newAuthServiceWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT id, username, password_hash, created_at FROM users WHERE username = \?`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	result := svc.Login(context.Background(), "ghost", "hunter22")
	require.False(t, result.Ok())
	assert.Equal(t, CodeUserNotFound, result.Code)
}
