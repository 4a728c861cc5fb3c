package model

import (
	"strings"
	"time"
)

// Message 一条持久化消息，只追加，不可编辑
type Message struct {
	ID         int64
	ChatRoomID int64
	SenderID   int64
	Content    string
	SentAt     time.Time
}

// ChatMessageDTO is the wire projection of a message: room != nil means a
// room message, to != nil means a direct message. The unset side is
// serialized as an explicit JSON null, per the wire protocol.
type ChatMessageDTO struct {
	Room    *string       `json:"room"`
	From    string        `json:"from"`
	To      *string       `json:"to"`
	Content string        `json:"content"`
	SentAt  LocalDateTime `json:"sentAt"`
}

// StrPtr is a small helper for building ChatMessageDTO literals.
func StrPtr(s string) *string { return &s }

// localDateTimeLayout mirrors Java's LocalDateTime.toString(): no timezone,
// optional fractional seconds.
const localDateTimeLayout = "2006-01-02T15:04:05"

// LocalDateTime is a timestamp encoded on the wire without a timezone
// component (yyyy-MM-ddTHH:mm:ss[.fff]), matching the Java client's
// LocalDateTime. Internally it is always treated as UTC wall-clock time.
type LocalDateTime time.Time

// Now returns the current time truncated to second precision, as the wire
// format carries no sub-second component in the common case.
func Now() LocalDateTime {
	return LocalDateTime(time.Now().UTC().Truncate(time.Second))
}

func (t LocalDateTime) Time() time.Time { return time.Time(t) }

func (t LocalDateTime) MarshalJSON() ([]byte, error) {
	s := time.Time(t).Format(localDateTimeLayout)
	return []byte(`"` + s + `"`), nil
}

func (t *LocalDateTime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*t = LocalDateTime(time.Time{})
		return nil
	}
	// tolerate a trailing fractional-seconds component and/or a Z/offset
	// suffix from lenient clients without rejecting the frame.
	s = strings.TrimSuffix(s, "Z")
	layouts := []string{
		localDateTimeLayout,
		localDateTimeLayout + ".000",
		time.RFC3339,
	}
	var lastErr error
	for _, layout := range layouts {
		parsed, err := time.Parse(layout, s)
		if err == nil {
			*t = LocalDateTime(parsed)
			return nil
		}
		lastErr = err
	}
	return lastErr
}

func (t LocalDateTime) IsZero() bool { return time.Time(t).IsZero() }
