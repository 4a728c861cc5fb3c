// Package session implements C6's per-connection state machine, grounded
// on original_source/service/net/ConnectionHandler.java. Java's
// BufferedReader.readLine() read loop becomes a bufio.Reader over a
// deadline-bounded net.Conn; Java's per-type EventProcessor map becomes a
// Go switch.
package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"chatcore/internal/model"
	"chatcore/internal/protocol"
	"chatcore/internal/registry"
	"chatcore/internal/service"
	"chatcore/pkg/logger"
)

// errStopReading unwinds the read loop for both a client-initiated LOGOUT
// and any unexpected error from a downstream service call: the original
// Java handler has no recovery path for either case (LOGOUT closes the
// socket directly; an unhandled RuntimeException from the chat service
// propagates out of run() and terminates the handler).
var errStopReading = errors.New("session: stop reading")

// Handler drives one accepted TCP connection end to end.
type Handler struct {
	clientID int64
	conn     net.Conn

	auth *service.AuthService
	chat *service.ChatService
	reg  *registry.Registry

	readIdleTimeout time.Duration

	username string // owned exclusively by this goroutine
}

func NewHandler(clientID int64, conn net.Conn, auth *service.AuthService, chat *service.ChatService, reg *registry.Registry, readIdleTimeout time.Duration) *Handler {
	return &Handler{
		clientID:        clientID,
		conn:            conn,
		auth:            auth,
		chat:            chat,
		reg:             reg,
		readIdleTimeout: readIdleTimeout,
	}
}

// Run blocks until the connection closes or ctx is cancelled.
func (h *Handler) Run(ctx context.Context) {
	remote := h.conn.RemoteAddr().String()
	logger.Info("connection handler started", zap.Int64("clientId", h.clientID), zap.String("remote", remote))

	configureSocket(h.conn)
	h.reg.AddClient(h.clientID, h.conn)

	h.readLoop(ctx)

	h.cleanup()
	_ = h.conn.Close()
	logger.Info("connection handler stopped", zap.Int64("clientId", h.clientID), zap.String("remote", remote))
}

func (h *Handler) readLoop(ctx context.Context) {
	reader := bufio.NewReader(h.conn)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if h.readIdleTimeout > 0 {
			_ = h.conn.SetReadDeadline(time.Now().Add(h.readIdleTimeout))
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue // wake up periodically to notice ctx cancellation / closed socket
			}
			return // EOF or a real I/O error: client disconnected
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if err := h.handleIncoming(ctx, line); err != nil {
			return
		}
	}
}

func (h *Handler) handleIncoming(ctx context.Context, line string) error {
	var env protocol.Envelope
	if err := json.Unmarshal([]byte(line), &env); err != nil {
		logger.Warn("invalid JSON from client", zap.Int64("clientId", h.clientID), zap.Error(err))
		h.sendError(protocol.CodeInvalidJSON, "invalid JSON")
		return nil
	}

	eventType := strings.ToUpper(strings.TrimSpace(env.Type))
	if eventType == "" {
		h.sendError(protocol.CodeInvalidRequest, "missing type field")
		return nil
	}

	switch eventType {
	case protocol.TypeAuthRequest:
		return h.onAuthRequest(ctx, env)
	case protocol.TypeChatMessage:
		return h.onChatMessage(ctx, env)
	case protocol.TypeDirectMessage:
		return h.onDirectMessage(ctx, env)
	case protocol.TypeHistoryRequest:
		return h.onHistoryRequest(ctx, env)
	case protocol.TypeLogout:
		return h.onLogout(env)
	default:
		h.sendError(protocol.CodeUnknownType, "unknown message type: "+env.Type)
		return nil
	}
}

func (h *Handler) onAuthRequest(ctx context.Context, env protocol.Envelope) error {
	var req protocol.AuthRequestData
	if !h.decodeData(env, &req) {
		return nil
	}

	action := strings.ToUpper(strings.TrimSpace(req.Action))
	if action == "" {
		h.sendError(protocol.CodeValidationError, "action is required (LOGIN|REGISTER)")
		return nil
	}

	var result service.AuthResult
	switch action {
	case "REGISTER":
		result = h.auth.Register(ctx, req.Username, req.Password)
	case "LOGIN":
		result = h.auth.Login(ctx, req.Username, req.Password)
	default:
		h.sendError(protocol.CodeUnknownAction, "unknown action: "+req.Action)
		return nil
	}

	if !result.Ok() {
		h.sendError(result.Code, result.Message)
		return nil
	}

	alreadyAuthenticated := h.username != ""
	h.username = result.Username
	h.reg.BindUsername(h.clientID, h.username)

	h.send(protocol.TypeAuthResponse, protocol.AuthResponseData{Username: h.username})

	// A repeated AUTH_REQUEST on an already-authenticated connection does
	// not replay the join sequence: no second history dump or presence
	// broadcast for a username the registry already holds.
	if alreadyAuthenticated {
		return nil
	}

	history, err := h.chat.GetRoomHistory(ctx, protocol.DefaultRoom, protocol.DefaultHistoryLimit)
	if err != nil {
		return h.fatal("load default room history", err)
	}
	room := protocol.DefaultRoom
	h.send(protocol.TypeHistoryResponse, protocol.HistoryResponseData{
		Scope:    "ROOM",
		Room:     &room,
		Messages: history,
	})

	h.broadcastPresence("userJoined", h.username)
	return nil
}

func (h *Handler) onChatMessage(ctx context.Context, env protocol.Envelope) error {
	if !h.requireAuthed() {
		return nil
	}

	var msg protocol.ChatMessageData
	if !h.decodeData(env, &msg) {
		return nil
	}

	room := strings.TrimSpace(msg.Room)
	if room == "" {
		room = protocol.DefaultRoom
	}

	content, ok := h.normalizeContent(msg.Content)
	if !ok {
		return nil
	}

	sentAt := sentAtOrNow(msg.SentAt)

	if err := h.chat.PostToRoom(ctx, room, h.username, content, sentAt.Time()); err != nil {
		return h.fatal("post room message", err)
	}

	dto := model.ChatMessageDTO{Room: model.StrPtr(room), From: h.username, To: nil, Content: content, SentAt: sentAt}
	env2, _ := protocol.NewEnvelope(protocol.TypeChatMessage, dto)
	h.reg.Broadcast(env2)
	return nil
}

func (h *Handler) onDirectMessage(ctx context.Context, env protocol.Envelope) error {
	if !h.requireAuthed() {
		return nil
	}

	var dm protocol.DirectMessageData
	if !h.decodeData(env, &dm) {
		return nil
	}

	to := strings.TrimSpace(dm.To)
	if to == "" {
		h.sendError(protocol.CodeValidationError, "to is required")
		return nil
	}

	content, ok := h.normalizeContent(dm.Content)
	if !ok {
		return nil
	}

	sentAt := sentAtOrNow(dm.SentAt)

	if err := h.chat.PostDirect(ctx, h.username, to, content, sentAt.Time()); err != nil {
		return h.fatal("post direct message", err)
	}

	dto := model.ChatMessageDTO{Room: nil, From: h.username, To: model.StrPtr(to), Content: content, SentAt: sentAt}
	outEnv, _ := protocol.NewEnvelope(protocol.TypeDirectMessage, dto)

	if delivered := h.reg.SendToUser(to, outEnv); !delivered {
		h.sendError(protocol.CodeUserOffline, "user is not online: "+to)
	}

	h.reg.SendToClient(h.clientID, outEnv)
	return nil
}

func (h *Handler) onHistoryRequest(ctx context.Context, env protocol.Envelope) error {
	if !h.requireAuthed() {
		return nil
	}

	var req protocol.HistoryRequestData
	if !h.decodeData(env, &req) {
		return nil
	}

	scope := strings.ToUpper(strings.TrimSpace(req.Scope))
	limit := req.Limit
	if limit <= 0 {
		limit = protocol.DefaultHistoryLimit
	}

	switch scope {
	case "ROOM":
		room := strings.TrimSpace(req.Room)
		if room == "" {
			h.sendError(protocol.CodeValidationError, "room is required for scope=ROOM")
			return nil
		}
		history, err := h.chat.GetRoomHistory(ctx, room, limit)
		if err != nil {
			return h.fatal("load room history", err)
		}
		h.send(protocol.TypeHistoryResponse, protocol.HistoryResponseData{Scope: "ROOM", Room: &room, Messages: history})
		return nil

	case "DM":
		peer := strings.TrimSpace(req.Peer)
		if peer == "" {
			h.sendError(protocol.CodeValidationError, "peer is required for scope=DM")
			return nil
		}
		history, err := h.chat.GetDirectHistory(ctx, h.username, peer, limit)
		if err != nil {
			return h.fatal("load direct history", err)
		}
		h.send(protocol.TypeHistoryResponse, protocol.HistoryResponseData{Scope: "DM", Peer: &peer, Messages: history})
		return nil

	default:
		h.sendError(protocol.CodeUnknownScope, "unknown scope: "+req.Scope)
		return nil
	}
}

func (h *Handler) onLogout(env protocol.Envelope) error {
	if !h.requireAuthed() {
		return nil
	}

	left := h.username
	h.username = ""

	// remove first so OnlineCount() reflects "after" for the broadcast below
	h.reg.RemoveClient(h.clientID)
	h.broadcastPresence("userLeft", left)

	return errStopReading
}

func (h *Handler) cleanup() {
	h.reg.RemoveClient(h.clientID)
	if strings.TrimSpace(h.username) != "" {
		h.broadcastPresence("userLeft", h.username)
	}
}

func (h *Handler) broadcastPresence(event, username string) {
	if strings.TrimSpace(username) == "" {
		return
	}
	env, _ := protocol.NewEnvelope(protocol.TypeUserPresence, protocol.UserPresenceData{
		Event:       event,
		Username:    username,
		OnlineCount: h.reg.OnlineCount(),
	})
	h.reg.Broadcast(env)
}

func (h *Handler) requireAuthed() bool {
	if strings.TrimSpace(h.username) != "" {
		return true
	}
	h.sendError(protocol.CodeUnauthorized, "log in first")
	return false
}

func (h *Handler) normalizeContent(content string) (string, bool) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		h.sendError(protocol.CodeValidationError, "content must not be blank")
		return "", false
	}
	if utf8.RuneCountInString(trimmed) > protocol.MaxMessageLength {
		h.sendError(protocol.CodeValidationError, "content exceeds maximum length of "+strconv.Itoa(protocol.MaxMessageLength))
		return "", false
	}
	return trimmed, true
}

// decodeData reports whether env.Data holds a non-null JSON object and, if
// so, unmarshals it into target. On failure it sends an INVALID_REQUEST
// error to the client and returns false.
func (h *Handler) decodeData(env protocol.Envelope, target interface{}) bool {
	trimmed := strings.TrimSpace(string(env.Data))
	if trimmed == "" || trimmed == "null" {
		h.sendError(protocol.CodeInvalidRequest, "data field is required")
		return false
	}
	if err := json.Unmarshal(env.Data, target); err != nil {
		h.sendError(protocol.CodeInvalidRequest, "data field has an invalid shape")
		return false
	}
	return true
}

func (h *Handler) send(eventType string, data interface{}) {
	env, err := protocol.NewEnvelope(eventType, data)
	if err != nil {
		logger.Error("failed to marshal outgoing envelope", zap.String("type", eventType), zap.Error(err))
		return
	}
	h.reg.SendToClient(h.clientID, env)
}

func (h *Handler) sendError(code, message string) {
	h.reg.SendToClient(h.clientID, protocol.ErrorEnvelope(code, message))
}

func (h *Handler) fatal(op string, err error) error {
	logger.Error("unexpected error handling client message",
		zap.Int64("clientId", h.clientID), zap.String("op", op), zap.Error(err))
	return errStopReading
}

func sentAtOrNow(sentAt *model.LocalDateTime) model.LocalDateTime {
	if sentAt == nil || sentAt.IsZero() {
		return model.Now()
	}
	return *sentAt
}

func configureSocket(conn net.Conn) {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}
}
