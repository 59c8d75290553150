package chat

import "time"

// Author identifies who produced a message.
type Author string

const (
	AuthorUser Author = "user"
	AuthorBot  Author = "bot"
)

// Role returns the label used when the message is rendered into context.
func (a Author) Role() string {
	switch a {
	case AuthorUser:
		return "User"
	case AuthorBot:
		return "Assistant"
	default:
		return string(a)
	}
}

// Message is one turn of a conversation. Messages are appended once and never mutated.
type Message struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"sessionId"`
	Author    Author    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"timestamp"`
}

// timestampLayout matches JavaScript's Date.toISOString, which clients of the relay expect.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTimestamp renders t in UTC with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}
