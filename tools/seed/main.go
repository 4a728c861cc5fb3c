// Command seed populates a fresh chatcore database with a handful of demo
// users and public-room messages, so a local server has something to show
// on first connect. Grounded on tools/reset_db/main.go for config loading
// and direct database/sql usage.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"chatcore/config"
	"chatcore/internal/repository"
	"chatcore/internal/service"
	"chatcore/pkg/db"
	"chatcore/pkg/password"
)

var demoUsers = []string{"alice", "bob", "carol"}

func main() {
	cfg := config.LoadConfig()

	sqlDB, err := db.InitDB(cfg.DB)
	if err != nil {
		log.Fatalf("connect to database: %v", err)
	}
	defer db.CloseDB()

	if err := db.Migrate(cfg.DB); err != nil {
		log.Fatalf("apply schema: %v", err)
	}

	users := repository.NewUserRepository(sqlDB)
	chatRooms := repository.NewChatRoomRepository(sqlDB)
	directs := repository.NewDirectChatRepository(sqlDB, chatRooms)
	messages := repository.NewMessageRepository(sqlDB)

	hasher := password.NewHasher(cfg.Auth.HashIterations, cfg.Auth.LegacyHashSupport)
	authSvc := service.NewAuthService(users, hasher)
	chatSvc := service.NewChatService(users, chatRooms, directs, messages, nil)

	ctx := context.Background()

	for _, username := range demoUsers {
		result := authSvc.Register(ctx, username, "password123")
		if result.Ok() {
			fmt.Printf("created user %q\n", username)
		} else if result.Code == service.CodeUserExists {
			fmt.Printf("user %q already exists\n", username)
		} else {
			log.Fatalf("register %q: %s", username, result.Message)
		}
	}

	greetings := []struct {
		from, content string
	}{
		{"alice", "hey everyone, welcome to chatcore"},
		{"bob", "glad to be here"},
		{"carol", "hello!"},
	}
	for _, g := range greetings {
		if err := chatSvc.PostToRoom(ctx, "General", g.from, g.content, time.Now().UTC()); err != nil {
			log.Fatalf("seed room message from %q: %v", g.from, err)
		}
	}

	if err := chatSvc.PostDirect(ctx, "alice", "bob", "hey bob, got a minute?", time.Now().UTC()); err != nil {
		log.Fatalf("seed direct message: %v", err)
	}

	fmt.Println("seed complete")
}
