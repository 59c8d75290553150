package chat

import "time"

// Session captures a conversation bound to the network origin that created it.
type Session struct {
	ID             string    `json:"sessionId"`
	OriginKey      string    `json:"-"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivity"`
	Messages       []Message `json:"-"`
}

// IdleFor reports how long the session has gone without a validated access.
func (s Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActivityAt)
}

// Expired reports whether the session is logically dead at now.
func (s Session) Expired(timeout time.Duration, now time.Time) bool {
	return s.IdleFor(now) > timeout
}

// ExpiresIn returns the remaining lifetime, never negative.
func (s Session) ExpiresIn(timeout time.Duration, now time.Time) time.Duration {
	remaining := timeout - s.IdleFor(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Summary is the public description of a session.
type Summary struct {
	SessionID    string `json:"sessionId"`
	MessageCount int    `json:"messageCount"`
	CreatedAt    string `json:"createdAt"`
	LastActivity string `json:"lastActivity"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// Summarize describes the session at now; ExpiresIn is in milliseconds.
func (s Session) Summarize(timeout time.Duration, now time.Time) Summary {
	return Summary{
		SessionID:    s.ID,
		MessageCount: len(s.Messages),
		CreatedAt:    FormatTimestamp(s.CreatedAt),
		LastActivity: FormatTimestamp(s.LastActivityAt),
		ExpiresIn:    s.ExpiresIn(timeout, now).Milliseconds(),
	}
}
