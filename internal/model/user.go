package model

import "time"

// User 用户
// username 是大小写不敏感的唯一键，落库前统一转为小写
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}
