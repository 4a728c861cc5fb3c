// Package cache implements C10's optional Redis-backed room history cache
// and cross-process broadcast relay, replacing the teacher's pkg/redis
// package with a version scoped to the chat domain. It is grounded on
// pkg/redis/redis.go for connection setup and pkg/redis/message_cache.go
// for the marshal/TTL shape, adapted to use the go-redis/v9 client
// directly (no package-level singleton) and to publish/subscribe for
// relay fan-out instead of caching private conversations.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"chatcore/config"
	"chatcore/internal/model"
	"chatcore/internal/protocol"
	"chatcore/internal/registry"
	"chatcore/pkg/logger"
)

const (
	historyKeyPrefix = "chatcore:history:room:"
	broadcastChannel = "chatcore:broadcast"
)

// RedisCache is a HistoryCache (service.HistoryCache) and a
// registry.Relay backed by Redis. A nil *RedisCache is valid and behaves
// as a fully disabled cache: every method is a safe no-op / cache miss.
type RedisCache struct {
	client    *redis.Client
	ttl       time.Duration
	processID string
}

// relayMessage is the wire shape published on broadcastChannel. originId
// lets a process recognize and discard its own publications, so a process
// never re-delivers a message its own client already has locally; targetUser
// set means deliver only to that username on the receiving process rather
// than to every local client.
type relayMessage struct {
	OriginID   string            `json:"originId"`
	TargetUser string            `json:"targetUser,omitempty"`
	Envelope   protocol.Envelope `json:"envelope"`
}

// New connects to Redis per cfg. It returns (nil, nil) when caching is
// disabled, so callers can pass the result straight to service.NewChatService
// and registry.New without a branch.
func New(cfg config.RedisConfig) (*RedisCache, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     10,
		MinIdleConns: 5,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(pingCtx).Result(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	ttl := cfg.HistoryTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisCache{client: client, ttl: ttl, processID: uuid.NewString()}, nil
}

func (c *RedisCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *RedisCache) GetRoomHistory(ctx context.Context, roomID int64) ([]model.ChatMessageDTO, bool) {
	if c == nil {
		return nil, false
	}

	raw, err := c.client.Get(ctx, historyKey(roomID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Warn("history cache read failed", zap.Int64("roomId", roomID), zap.Error(err))
		}
		return nil, false
	}

	var entries []model.ChatMessageDTO
	if err := json.Unmarshal(raw, &entries); err != nil {
		logger.Warn("history cache decode failed", zap.Int64("roomId", roomID), zap.Error(err))
		return nil, false
	}
	return entries, true
}

func (c *RedisCache) SetRoomHistory(ctx context.Context, roomID int64, entries []model.ChatMessageDTO) {
	if c == nil {
		return
	}

	body, err := json.Marshal(entries)
	if err != nil {
		logger.Warn("history cache encode failed", zap.Int64("roomId", roomID), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, historyKey(roomID), body, c.ttl).Err(); err != nil {
		logger.Warn("history cache write failed", zap.Int64("roomId", roomID), zap.Error(err))
	}
}

func (c *RedisCache) InvalidateRoomHistory(ctx context.Context, roomID int64) {
	if c == nil {
		return
	}
	if err := c.client.Del(ctx, historyKey(roomID)).Err(); err != nil {
		logger.Warn("history cache invalidate failed", zap.Int64("roomId", roomID), zap.Error(err))
	}
}

// Publish satisfies registry.Relay: it fans a locally-originated broadcast
// out to every other server process sharing this Redis instance.
func (c *RedisCache) Publish(env protocol.Envelope) {
	if c == nil {
		return
	}
	c.publish(relayMessage{OriginID: c.processID, Envelope: env})
}

// PublishToUser satisfies registry.Relay: it asks sibling processes to
// deliver env to username if they have that user's connection, without
// broadcasting it to every local client on those processes.
func (c *RedisCache) PublishToUser(username string, env protocol.Envelope) {
	if c == nil {
		return
	}
	c.publish(relayMessage{OriginID: c.processID, TargetUser: username, Envelope: env})
}

func (c *RedisCache) publish(msg relayMessage) {
	body, err := json.Marshal(msg)
	if err != nil {
		logger.Warn("relay publish encode failed", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.client.Publish(ctx, broadcastChannel, body).Err(); err != nil {
		logger.Warn("relay publish failed", zap.Error(err))
	}
}

// Subscribe runs until ctx is cancelled, delivering every envelope
// published by sibling processes into reg's local clients. Call it in its
// own goroutine once at startup.
func (c *RedisCache) Subscribe(ctx context.Context, reg *registry.Registry) {
	if c == nil {
		return
	}

	sub := c.client.Subscribe(ctx, broadcastChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var relayed relayMessage
			if err := json.Unmarshal([]byte(msg.Payload), &relayed); err != nil {
				logger.Warn("relay message decode failed", zap.Error(err))
				continue
			}
			if relayed.OriginID == c.processID {
				continue
			}
			if relayed.TargetUser != "" {
				reg.DeliverLocalToUser(relayed.TargetUser, relayed.Envelope)
			} else {
				reg.DeliverLocal(relayed.Envelope)
			}
		}
	}
}

func historyKey(roomID int64) string {
	return fmt.Sprintf("%s%d", historyKeyPrefix, roomID)
}
