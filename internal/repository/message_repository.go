package repository

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"
)

const maxContentLength = 1000

// MessageRepository implements C2's MessageRepository contract, grounded
// on original_source/JdbcMessageRepository.java.
type MessageRepository struct {
	db DBTX
}

func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db}
}

// SaveMessage validates ids, trims/length-checks content, and inserts a new
// row, returning its id.
func (r *MessageRepository) SaveMessage(ctx context.Context, roomID, senderID int64, content string, sentAt time.Time) (int64, error) {
	if roomID <= 0 {
		return 0, &ValidationError{Field: "roomId", Msg: "must be > 0"}
	}
	if senderID <= 0 {
		return 0, &ValidationError{Field: "senderId", Msg: "must be > 0"}
	}
	text, err := requireContent(content)
	if err != nil {
		return 0, err
	}
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO message (chat_room_id, sender_id, content, sent_at) VALUES (?, ?, ?, ?)`,
		roomID, senderID, text, sentAt)
	if err != nil {
		return 0, wrapStorage("save message", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, wrapStorage("read saved message id", err)
	}
	return id, nil
}

// HistoryRow is one entry as loaded from the store, before it is projected
// into the wire-facing ChatMessageDTO by the chat messaging service.
type HistoryRow struct {
	FromUsername string
	Content      string
	SentAt       time.Time
}

// LoadHistory returns messages for roomID in ascending sent_at order, up to
// max(1, limit).
func (r *MessageRepository) LoadHistory(ctx context.Context, roomID int64, limit int) ([]HistoryRow, error) {
	if roomID <= 0 {
		return nil, &ValidationError{Field: "roomId", Msg: "must be > 0"}
	}
	if limit < 1 {
		limit = 1
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT u.username, m.content, m.sent_at
		FROM message m
		JOIN users u ON u.id = m.sender_id
		WHERE m.chat_room_id = ?
		ORDER BY m.sent_at ASC
		LIMIT ?`, roomID, limit)
	if err != nil {
		return nil, wrapStorage("load history", err)
	}
	defer rows.Close()

	var out []HistoryRow
	for rows.Next() {
		var row HistoryRow
		if err := rows.Scan(&row.FromUsername, &row.Content, &row.SentAt); err != nil {
			return nil, wrapStorage("scan history row", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStorage("iterate history rows", err)
	}
	return out, nil
}

func requireContent(content string) (string, error) {
	text := strings.TrimSpace(content)
	if text == "" {
		return "", &ValidationError{Field: "content", Msg: "must not be blank"}
	}
	if utf8.RuneCountInString(text) > maxContentLength {
		return "", &ValidationError{Field: "content", Msg: "exceeds maximum length of 1000"}
	}
	return text, nil
}
