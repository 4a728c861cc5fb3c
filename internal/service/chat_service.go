package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"chatcore/internal/model"
	"chatcore/internal/repository"
	"chatcore/pkg/logger"
)

// HistoryCache is a cache-aside read-through layer for public room history
// (C10). Implementations must be safe to call with a nil receiver's absence
// simulated by passing a nil HistoryCache — ChatService treats a nil cache
// as "caching disabled".
type HistoryCache interface {
	GetRoomHistory(ctx context.Context, roomID int64) ([]model.ChatMessageDTO, bool)
	SetRoomHistory(ctx context.Context, roomID int64, entries []model.ChatMessageDTO)
	InvalidateRoomHistory(ctx context.Context, roomID int64)
}

// ErrUserNotFound is returned when a participant username has no matching
// account row, mirroring DefaultChatMessagingService.requireUserId's
// DatabaseException("Пользователь не найден").
var ErrUserNotFound = errors.New("chat: user not found")

// ChatService implements C4, grounded on
// original_source/service/chat/DefaultChatMessagingService.java.
type ChatService struct {
	users     *repository.UserRepository
	chatRooms *repository.ChatRoomRepository
	directs   *repository.DirectChatRepository
	messages  *repository.MessageRepository
	cache     HistoryCache
}

func NewChatService(
	users *repository.UserRepository,
	chatRooms *repository.ChatRoomRepository,
	directs *repository.DirectChatRepository,
	messages *repository.MessageRepository,
	cache HistoryCache,
) *ChatService {
	return &ChatService{
		users:     users,
		chatRooms: chatRooms,
		directs:   directs,
		messages:  messages,
		cache:     cache,
	}
}

// PostToRoom persists content into the named public room, creating the room
// if it does not already exist. An empty room name resolves to the default
// public room.
func (s *ChatService) PostToRoom(ctx context.Context, room, fromUser, content string, sentAt time.Time) error {
	roomName := normalizeRoomName(room)

	roomID, err := s.chatRooms.CreateRoom(ctx, roomName)
	if err != nil {
		return err
	}
	senderID, err := s.requireUserID(ctx, fromUser)
	if err != nil {
		return err
	}

	if _, err := s.messages.SaveMessage(ctx, roomID, senderID, content, normalizeSentAt(sentAt)); err != nil {
		return err
	}
	s.recordMembership(ctx, senderID, roomID)
	if s.cache != nil {
		s.cache.InvalidateRoomHistory(ctx, roomID)
	}
	return nil
}

// recordMembership is best-effort provenance in user_chat_room: a failure
// here must never fail the post it accompanies.
func (s *ChatService) recordMembership(ctx context.Context, userID, roomID int64) {
	if err := s.chatRooms.RecordMembership(ctx, userID, roomID); err != nil {
		logger.Warn("failed to record chat room membership", zap.Int64("user_id", userID), zap.Int64("room_id", roomID), zap.Error(err))
	}
}

// PostDirect persists content into the DM pairing between fromUser and
// toUser, creating the pairing (and its backing room) if needed.
func (s *ChatService) PostDirect(ctx context.Context, fromUser, toUser, content string, sentAt time.Time) error {
	fromID, err := s.requireUserID(ctx, fromUser)
	if err != nil {
		return err
	}
	toID, err := s.requireUserID(ctx, toUser)
	if err != nil {
		return err
	}

	dmRoomID, err := s.ensureDirectRoom(ctx, fromID, toID)
	if err != nil {
		return err
	}

	if _, err := s.messages.SaveMessage(ctx, dmRoomID, fromID, content, normalizeSentAt(sentAt)); err != nil {
		return err
	}
	s.recordMembership(ctx, fromID, dmRoomID)
	s.recordMembership(ctx, toID, dmRoomID)
	return nil
}

// GetRoomHistory returns up to limit messages for room in ascending order,
// consulting the read-through cache first when one is configured.
func (s *ChatService) GetRoomHistory(ctx context.Context, room string, limit int) ([]model.ChatMessageDTO, error) {
	roomName := normalizeRoomName(room)

	roomID, err := s.chatRooms.CreateRoom(ctx, roomName)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if cached, ok := s.cache.GetRoomHistory(ctx, roomID); ok {
			return cached, nil
		}
	}

	rows, err := s.messages.LoadHistory(ctx, roomID, maxInt(1, limit))
	if err != nil {
		return nil, err
	}

	out := make([]model.ChatMessageDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, model.ChatMessageDTO{
			Room:    model.StrPtr(roomName),
			From:    row.FromUsername,
			To:      nil,
			Content: row.Content,
			SentAt:  model.LocalDateTime(row.SentAt),
		})
	}

	if s.cache != nil {
		s.cache.SetRoomHistory(ctx, roomID, out)
	}
	return out, nil
}

// GetDirectHistory returns up to limit DM messages between userA and userB,
// with To rewritten per-row to whichever of the pair did not send it.
func (s *ChatService) GetDirectHistory(ctx context.Context, userA, userB string, limit int) ([]model.ChatMessageDTO, error) {
	aID, err := s.requireUserID(ctx, userA)
	if err != nil {
		return nil, err
	}
	bID, err := s.requireUserID(ctx, userB)
	if err != nil {
		return nil, err
	}

	dmRoomID, ok, err := s.directs.FindDmRoomId(ctx, aID, bID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []model.ChatMessageDTO{}, nil
	}

	rows, err := s.messages.LoadHistory(ctx, dmRoomID, maxInt(1, limit))
	if err != nil {
		return nil, err
	}

	out := make([]model.ChatMessageDTO, 0, len(rows))
	for _, row := range rows {
		to := userA
		if strings.EqualFold(row.FromUsername, userA) {
			to = userB
		}
		out = append(out, model.ChatMessageDTO{
			Room:    nil,
			From:    row.FromUsername,
			To:      model.StrPtr(to),
			Content: row.Content,
			SentAt:  model.LocalDateTime(row.SentAt),
		})
	}
	return out, nil
}

func (s *ChatService) ensureDirectRoom(ctx context.Context, userAID, userBID int64) (int64, error) {
	if existing, ok, err := s.directs.FindDmRoomId(ctx, userAID, userBID); err != nil {
		return 0, err
	} else if ok {
		return existing, nil
	}

	roomID, err := s.chatRooms.CreateDirectRoom(ctx)
	if err != nil {
		return 0, err
	}
	return s.directs.CreateDm(ctx, userAID, userBID, roomID)
}

func (s *ChatService) requireUserID(ctx context.Context, username string) (int64, error) {
	uname := strings.TrimSpace(username)
	if uname == "" {
		return 0, &repository.ValidationError{Field: "username", Msg: "must not be blank"}
	}

	user, err := s.users.FindByUsername(ctx, uname)
	if err != nil {
		return 0, err
	}
	if user == nil {
		logger.Warn("chat operation referenced unknown user", zap.String("username", uname))
		return 0, ErrUserNotFound
	}
	return user.ID, nil
}

func normalizeRoomName(room string) string {
	r := strings.TrimSpace(room)
	if r == "" {
		return model.DefaultRoomName
	}
	return r
}

func normalizeSentAt(sentAt time.Time) time.Time {
	if sentAt.IsZero() {
		return time.Now().UTC()
	}
	return sentAt
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
