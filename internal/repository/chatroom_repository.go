package repository

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"chatcore/internal/model"
)

// mysqlDuplicateKey is error 1062 (ER_DUP_ENTRY): the row we just tried to
// insert already exists under a unique index. Detecting it requires the
// driver-specific error code, which is exactly what GORM does not expose
// ergonomically — see DESIGN.md for why this repository talks to
// database/sql directly instead.
const mysqlDuplicateKey = 1062

func isDuplicateKey(err error) bool {
	mysqlErr, ok := err.(*mysql.MySQLError)
	return ok && mysqlErr.Number == mysqlDuplicateKey
}

// ChatRoomRepository implements C2's ChatRoomRepository contract, grounded
// on original_source/JdbcChatRoomRepository.java.
type ChatRoomRepository struct {
	db DBTX
}

func NewChatRoomRepository(db DBTX) *ChatRoomRepository {
	return &ChatRoomRepository{db: db}
}

// FindRoomIdByName looks up a public ROOM by name.
func (r *ChatRoomRepository) FindRoomIdByName(ctx context.Context, name string) (int64, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, false, nil
	}

	row := r.db.QueryRowContext(ctx,
		`SELECT id FROM chat_room WHERE room_type = ? AND name = ?`, model.RoomTypeRoom, name)

	var id int64
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, wrapStorage("find room by name", err)
	}
	return id, true, nil
}

// CreateRoom is idempotent: it returns the existing room's id if a room of
// this name already exists, and re-reads on a unique-constraint race.
func (r *ChatRoomRepository) CreateRoom(ctx context.Context, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, &ValidationError{Field: "name", Msg: "must not be blank"}
	}

	if id, ok, err := r.FindRoomIdByName(ctx, name); err != nil {
		return 0, err
	} else if ok {
		return id, nil
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO chat_room (name, room_type, created_at) VALUES (?, ?, ?)`,
		name, model.RoomTypeRoom, time.Now().UTC())
	if err != nil {
		if isDuplicateKey(err) {
			if id, ok, ferr := r.FindRoomIdByName(ctx, name); ferr == nil && ok {
				return id, nil
			}
		}
		return 0, wrapStorage("create room", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, wrapStorage("read created room id", err)
	}
	return id, nil
}

// CreateDirectRoom creates a DM-type room with an opaque, non-displayable
// synthetic name.
func (r *ChatRoomRepository) CreateDirectRoom(ctx context.Context) (int64, error) {
	name := generateDMName()

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO chat_room (name, room_type, created_at) VALUES (?, ?, ?)`,
		name, model.RoomTypeDM, time.Now().UTC())
	if err != nil {
		return 0, wrapStorage("create direct room", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, wrapStorage("read created direct room id", err)
	}
	return id, nil
}

// DeleteOrphanDMRoom removes a DM-type room that lost the direct_chat
// pairing race. Best-effort: callers ignore its error.
func (r *ChatRoomRepository) DeleteOrphanDMRoom(ctx context.Context, roomID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM chat_room WHERE id = ? AND room_type = ?`, roomID, model.RoomTypeDM)
	return wrapStorage("delete orphan dm room", err)
}

// RecordMembership upserts a user_chat_room row marking userID as having
// posted into roomID. It is provenance only: nothing on the hot path reads
// it back, so an existing row is left as it is (the no-op ON DUPLICATE KEY
// UPDATE keeps its original joined_at) rather than failing.
func (r *ChatRoomRepository) RecordMembership(ctx context.Context, userID, roomID int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_chat_room (user_id, chat_room_id, joined_at) VALUES (?, ?, ?)
		 ON DUPLICATE KEY UPDATE joined_at = joined_at`,
		userID, roomID, time.Now().UTC())
	return wrapStorage("record chat room membership", err)
}

func generateDMName() string {
	return fmt.Sprintf("DM:TEMP:%d-%d", time.Now().UnixNano(), rand.Intn(1_000_000))
}
