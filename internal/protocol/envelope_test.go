package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcore/internal/model"
)

func TestNewEnvelope_RoundTrip(t *testing.T) {
	env, err := NewEnvelope(TypeAuthRequest, AuthRequestData{Action: "LOGIN", Username: "alice", Password: "hunter22"})
	require.NoError(t, err)
	assert.Equal(t, TypeAuthRequest, env.Type)

	body, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, env.Type, decoded.Type)

	var req AuthRequestData
	require.NoError(t, json.Unmarshal(decoded.Data, &req))
	assert.Equal(t, "LOGIN", req.Action)
	assert.Equal(t, "alice", req.Username)
}

func TestErrorEnvelope_NeverFailsToMarshal(t *testing.T) {
	env := ErrorEnvelope(CodeUnauthorized, "log in first")
	assert.Equal(t, TypeError, env.Type)

	var data ErrorData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, CodeUnauthorized, data.Code)
	assert.Equal(t, "log in first", data.Message)
}

func TestChatMessageData_SentAtOmittedWhenNil(t *testing.T) {
	env, err := NewEnvelope(TypeChatMessage, ChatMessageData{Room: "General", From: "alice", Content: "hi"})
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &raw))
	_, present := raw["sentAt"]
	assert.False(t, present)
}

func TestChatMessageData_SentAtRoundTrips(t *testing.T) {
	sentAt := model.LocalDateTime(time.Date(2026, 8, 6, 12, 30, 0, 0, time.UTC))
	env, err := NewEnvelope(TypeChatMessage, ChatMessageData{Room: "General", From: "alice", Content: "hi", SentAt: &sentAt})
	require.NoError(t, err)

	var decoded ChatMessageData
	require.NoError(t, json.Unmarshal(env.Data, &decoded))
	require.NotNil(t, decoded.SentAt)
	assert.True(t, sentAt.Time().Equal(decoded.SentAt.Time()))
}

func TestDirectMessageData_RoundTrip(t *testing.T) {
	sentAt := model.Now()
	env, err := NewEnvelope(TypeDirectMessage, DirectMessageData{From: "alice", To: "bob", Content: "hey", SentAt: &sentAt})
	require.NoError(t, err)

	var decoded DirectMessageData
	require.NoError(t, json.Unmarshal(env.Data, &decoded))
	assert.Equal(t, "alice", decoded.From)
	assert.Equal(t, "bob", decoded.To)
	require.NotNil(t, decoded.SentAt)
}

func TestHistoryResponseData_RoomAndPeerAreDistinctPointers(t *testing.T) {
	room := "General"
	messages := []model.ChatMessageDTO{
		{Room: model.StrPtr("General"), From: "alice", To: nil, Content: "hi", SentAt: model.Now()},
	}
	env, err := NewEnvelope(TypeHistoryResponse, HistoryResponseData{Scope: "ROOM", Room: &room, Messages: messages})
	require.NoError(t, err)

	var decoded HistoryResponseData
	require.NoError(t, json.Unmarshal(env.Data, &decoded))
	assert.Equal(t, "ROOM", decoded.Scope)
	require.NotNil(t, decoded.Room)
	assert.Equal(t, "General", *decoded.Room)
	assert.Nil(t, decoded.Peer)
	require.Len(t, decoded.Messages, 1)
	assert.Equal(t, "alice", decoded.Messages[0].From)
}

func TestLocalDateTime_MarshalUnmarshalRoundTrip(t *testing.T) {
	original := model.LocalDateTime(time.Date(2026, 3, 5, 9, 15, 42, 0, time.UTC))
	body, err := json.Marshal(original)
	require.NoError(t, err)
	assert.Equal(t, `"2026-03-05T09:15:42"`, string(body))

	var decoded model.LocalDateTime
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.True(t, original.Time().Equal(decoded.Time()))
}

func TestLocalDateTime_UnmarshalToleratesTrailingZAndFraction(t *testing.T) {
	var decoded model.LocalDateTime
	require.NoError(t, json.Unmarshal([]byte(`"2026-03-05T09:15:42.000Z"`), &decoded))
	assert.Equal(t, 2026, decoded.Time().Year())
}

func TestLocalDateTime_UnmarshalNullYieldsZeroValue(t *testing.T) {
	var decoded model.LocalDateTime
	require.NoError(t, json.Unmarshal([]byte(`null`), &decoded))
	assert.True(t, decoded.IsZero())
}
