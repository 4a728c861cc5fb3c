package repository

import (
	"context"
	"database/sql"

	"chatcore/internal/model"
)

// DirectChatRepository implements C2's DirectChatRepository contract,
// grounded on original_source/JdbcDirectChatRepository.java for the DM
// pairing race resolution.
type DirectChatRepository struct {
	db        DBTX
	chatRooms *ChatRoomRepository
}

func NewDirectChatRepository(db DBTX, chatRooms *ChatRoomRepository) *DirectChatRepository {
	return &DirectChatRepository{db: db, chatRooms: chatRooms}
}

// FindDmRoomId looks up the DM room for the ordered pair (min(a,b), max(a,b)).
func (r *DirectChatRepository) FindDmRoomId(ctx context.Context, a, b int64) (int64, bool, error) {
	low, high, err := requirePair(a, b)
	if err != nil {
		return 0, false, err
	}

	row := r.db.QueryRowContext(ctx,
		`SELECT chat_room_id FROM direct_chat WHERE user_low_id = ? AND user_high_id = ?`, low, high)

	var roomID int64
	if err := row.Scan(&roomID); err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, wrapStorage("find dm room", err)
	}
	return roomID, true, nil
}

// CreateDm binds a pre-created DM room (roomID) to the pair. On a race
// where another writer already inserted the pairing, it reclaims the
// caller's orphan room (best-effort) and returns the winning room id.
func (r *DirectChatRepository) CreateDm(ctx context.Context, a, b, roomID int64) (int64, error) {
	low, high, err := requirePair(a, b)
	if err != nil {
		return 0, err
	}
	if roomID <= 0 {
		return 0, &ValidationError{Field: "chatRoomId", Msg: "must be > 0"}
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO direct_chat (user_low_id, user_high_id, chat_room_id) VALUES (?, ?, ?)`,
		low, high, roomID)
	if err == nil {
		return roomID, nil
	}

	if !isDuplicateKey(err) {
		return 0, wrapStorage("create dm pairing", err)
	}

	existingRoomID, ok, ferr := r.FindDmRoomId(ctx, low, high)
	if ferr != nil {
		return 0, ferr
	}
	if !ok {
		return 0, wrapStorage("create dm pairing", err)
	}
	if existingRoomID != roomID {
		_ = r.chatRooms.DeleteOrphanDMRoom(ctx, roomID)
	}
	return existingRoomID, nil
}

func requirePair(a, b int64) (low, high int64, err error) {
	if a <= 0 || b <= 0 {
		return 0, 0, &ValidationError{Field: "userId", Msg: "must be > 0"}
	}
	low, high = model.OrderedPair(a, b)
	if low == high {
		return 0, 0, &ValidationError{Field: "userId", Msg: "cannot DM self"}
	}
	return low, high, nil
}
