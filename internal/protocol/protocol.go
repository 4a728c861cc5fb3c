// Package protocol defines the newline-delimited JSON envelope exchanged
// between client and server (C8), grounded on
// original_source/service/net/Protocol.java.
package protocol

// Event types (server<->client).
const (
	TypeAuthRequest     = "AUTH_REQUEST"
	TypeAuthResponse    = "AUTH_RESPONSE"
	TypeChatMessage     = "CHAT_MESSAGE"
	TypeDirectMessage   = "DIRECT_MESSAGE"
	TypeHistoryRequest  = "HISTORY_REQUEST"
	TypeHistoryResponse = "HISTORY_RESPONSE"
	TypeUserPresence    = "USER_PRESENCE"
	TypeError           = "ERROR"
	TypeLogout          = "LOGOUT"
)

// Error codes.
const (
	CodeInvalidJSON     = "INVALID_JSON"
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeValidationError = "VALIDATION_ERROR"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeUnknownType     = "UNKNOWN_TYPE"
	CodeUnknownAction   = "UNKNOWN_ACTION"
	CodeUnknownScope    = "UNKNOWN_SCOPE"
	CodeUserOffline     = "USER_OFFLINE"
)

// Domain defaults.
const (
	DefaultRoom         = "General"
	DefaultHistoryLimit = 150
	MaxMessageLength    = 1000
)
