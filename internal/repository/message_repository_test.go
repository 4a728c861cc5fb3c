package repository

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMessageRepoWithMock(t *testing.T) (*MessageRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewMessageRepository(db), mock, db
}

func TestMessageRepository_SaveMessage_Success(t *testing.T) {
	repo, mock, db := newMessageRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO message \(chat_room_id, sender_id, content, sent_at\) VALUES \(\?, \?, \?, \?\)`).
		WithArgs(int64(1), int64(2), "hello", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(77, 1))

	id, err := repo.SaveMessage(context.Background(), 1, 2, "  hello  ", time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(77), id)
}

func TestMessageRepository_SaveMessage_RejectsBlankContent(t *testing.T) {
	repo, _, db := newMessageRepoWithMock(t)
	defer db.Close()

	_, err := repo.SaveMessage(context.Background(), 1, 2, "   ", time.Now())
	require.Error(t, err)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestMessageRepository_SaveMessage_RejectsOverlongContent(t *testing.T) {
	repo, _, db := newMessageRepoWithMock(t)
	defer db.Close()

	_, err := repo.SaveMessage(context.Background(), 1, 2, strings.Repeat("x", 1001), time.Now())
	require.Error(t, err)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestMessageRepository_LoadHistory_ClampsLimitAndOrders(t *testing.T) {
	repo, mock, db := newMessageRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{"username", "content", "sent_at"}).
		AddRow("alice", "hi", now).
		AddRow("bob", "hey", now.Add(time.Second))

	mock.ExpectQuery(`SELECT u\.username, m\.content, m\.sent_at`).
		WithArgs(int64(9), 1).
		WillReturnRows(rows)

	out, err := repo.LoadHistory(context.Background(), 9, -5)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "alice", out[0].FromUsername)
	assert.Equal(t, "bob", out[1].FromUsername)
}
