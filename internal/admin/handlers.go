// Package admin implements C9's read-only HTTP operator surface: health
// checks, config introspection, an admin JWT login, the online-user
// snapshot, and per-room history — grounded on the teacher's
// cmd/server/main.go setupBasicRoutes and internal/handler/user_handler.go,
// reusing pkg/jwt, pkg/logger and pkg/response as-is.
package admin

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"chatcore/config"
	"chatcore/internal/protocol"
	"chatcore/internal/registry"
	"chatcore/internal/service"
	"chatcore/pkg/db"
	"chatcore/pkg/jwt"
	"chatcore/pkg/password"
	"chatcore/pkg/response"
)

// Handlers holds the dependencies behind the admin HTTP surface.
type Handlers struct {
	cfg    *config.Config
	jwtSvc *jwt.JWTService
	hasher *password.Hasher
	chat   *service.ChatService
	reg    *registry.Registry
}

func NewHandlers(cfg *config.Config, jwtSvc *jwt.JWTService, hasher *password.Hasher, chat *service.ChatService, reg *registry.Registry) *Handlers {
	return &Handlers{cfg: cfg, jwtSvc: jwtSvc, hasher: hasher, chat: chat, reg: reg}
}

// Healthz reports process liveness unconditionally.
func (h *Handlers) Healthz(c *gin.Context) {
	response.Success(c, gin.H{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

// Readyz reports readiness, currently gated on database reachability.
func (h *Handlers) Readyz(c *gin.Context) {
	if err := db.HealthCheck(); err != nil {
		response.ErrorWithDetails(c, http.StatusServiceUnavailable, "database unavailable", err)
		return
	}
	response.Success(c, gin.H{"status": "ready"})
}

// Config exposes non-sensitive runtime configuration for operator dashboards.
func (h *Handlers) Config(c *gin.Context) {
	response.Success(c, gin.H{
		"server": gin.H{
			"host":              h.cfg.Server.Host,
			"port":              h.cfg.Server.Port,
			"read_idle_timeout": h.cfg.Server.ReadIdleTimeout.String(),
		},
		"db": gin.H{
			"driver":   h.cfg.DB.Driver,
			"host":     h.cfg.DB.Host,
			"port":     h.cfg.DB.Port,
			"database": h.cfg.DB.Database,
		},
		"redis": gin.H{
			"enabled": h.cfg.Redis.Enabled,
		},
		"auth": gin.H{
			"hash_iterations":     h.cfg.Auth.HashIterations,
			"legacy_hash_support": h.cfg.Auth.LegacyHashSupport,
		},
	})
}

// Login issues an admin bearer token given the operator credentials
// configured via config.AdminConfig. There is no admin user table: the
// single operator identity and its PBKDF2 hash live in configuration,
// grounded on the teacher's JWT issuance shape in pkg/jwt/jwt.go.
func (h *Handlers) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if subtle.ConstantTimeCompare([]byte(req.Username), []byte(h.cfg.Admin.Username)) != 1 {
		response.Unauthorized(c, "invalid credentials")
		return
	}
	if !h.hasher.Verify(req.Password, h.cfg.Admin.PasswordHash) {
		response.Unauthorized(c, "invalid credentials")
		return
	}

	token, err := h.jwtSvc.GenerateToken(h.cfg.Admin.Username, map[string]interface{}{"username": h.cfg.Admin.Username})
	if err != nil {
		response.InternalError(c, "failed to issue token")
		return
	}

	response.SuccessWithMessage(c, "login succeeded", &response.LoginResponse{
		Username:    h.cfg.Admin.Username,
		AccessToken: token,
	})
}

// Online returns the current registry snapshot of connected usernames.
func (h *Handlers) Online(c *gin.Context) {
	response.Success(c, &response.OnlineUsersResponse{
		OnlineCount: h.reg.OnlineCount(),
		Usernames:   h.reg.OnlineUsersSnapshot(),
	})
}

// RoomHistory returns the recent message history of a public room.
func (h *Handlers) RoomHistory(c *gin.Context) {
	room := c.Param("room")
	limit := protocol.DefaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	messages, err := h.chat.GetRoomHistory(c.Request.Context(), room, limit)
	if err != nil {
		response.InternalError(c, "failed to load room history")
		return
	}
	response.Success(c, gin.H{"room": room, "messages": messages})
}
