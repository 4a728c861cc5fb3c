package model

import "time"

// RoomType 区分公共房间与私聊房间
type RoomType string

const (
	RoomTypeRoom RoomType = "ROOM"
	RoomTypeDM   RoomType = "DM"

	// DefaultRoomName 是首次引用时懒创建的默认公共房间
	DefaultRoomName = "General"
)

// ChatRoom 既承载公共房间，也承载一对用户的私聊房间
type ChatRoom struct {
	ID        int64
	Name      string
	RoomType  RoomType
	CreatedAt time.Time
}
