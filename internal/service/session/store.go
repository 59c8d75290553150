// Package session owns the origin-bound conversation sessions of the relay.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/zhouzirui/chat-relay/backend/internal/metrics"
	"github.com/zhouzirui/chat-relay/backend/internal/model/chat"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrQuotaExceeded   = errors.New("session quota exceeded")
)

const (
	DefaultTimeout       = 30 * time.Minute
	DefaultSweepInterval = 5 * time.Minute
	DefaultMaxPerOrigin  = 5

	// idBytes is the entropy of a session id; 32 bytes encode to 64 hex characters.
	idBytes = 32
)

// Config tunes session lifetime and limits. Zero values fall back to defaults.
type Config struct {
	Timeout       time.Duration
	SweepInterval time.Duration
	MaxPerOrigin  int
	// MaxMessages bounds the retained history per session; 0 keeps everything.
	MaxMessages int
}

// Option customises a Store.
type Option func(*Store)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithMetrics records session lifecycle events.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

type record struct {
	session       chat.Session
	nextMessageID int64
}

func (r *record) snapshot() chat.Session {
	out := r.session
	out.Messages = append([]chat.Message(nil), r.session.Messages...)
	return out
}

// Store is the in-memory session table. Every read or mutation of a record
// happens under mu, so quota counting, the activity bump, appends and the
// sweep never observe a half-applied change.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*record
	cfg      Config
	now      func() time.Time
	metrics  *metrics.Metrics
}

// NewStore builds an empty store.
func NewStore(cfg Config, opts ...Option) *Store {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.MaxPerOrigin <= 0 {
		cfg.MaxPerOrigin = DefaultMaxPerOrigin
	}

	s := &Store{
		sessions: make(map[string]*record),
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Timeout is the idle duration after which a session is dead.
func (s *Store) Timeout() time.Duration {
	return s.cfg.Timeout
}

// Now exposes the store clock so callers compute expiry on the same timeline.
func (s *Store) Now() time.Time {
	return s.now()
}

// Create opens a session for origin, refusing when origin already owns
// MaxPerOrigin live sessions.
func (s *Store) Create(origin string) (chat.Session, error) {
	return s.create(origin, true)
}

// CreateUnchecked opens a session without consulting the per-origin quota.
// The chat endpoint uses it when a request arrives without a session id.
func (s *Store) CreateUnchecked(origin string) (chat.Session, error) {
	return s.create(origin, false)
}

func (s *Store) create(origin string, enforceQuota bool) (chat.Session, error) {
	id, err := GenerateID()
	if err != nil {
		return chat.Session{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if enforceQuota && s.liveForOriginLocked(origin, now) >= s.cfg.MaxPerOrigin {
		s.metrics.QuotaRejected()
		log.Warn().Str("origin", origin).Int("limit", s.cfg.MaxPerOrigin).Msg("session quota exceeded")
		return chat.Session{}, ErrQuotaExceeded
	}

	rec := &record{
		session: chat.Session{
			ID:             id,
			OriginKey:      origin,
			CreatedAt:      now,
			LastActivityAt: now,
			Messages:       make([]chat.Message, 0, 16),
		},
		nextMessageID: 1,
	}
	s.sessions[id] = rec
	s.metrics.SessionCreated()

	log.Info().Str("session", shortID(id)).Str("origin", origin).Msg("session created")
	return rec.snapshot(), nil
}

func (s *Store) liveForOriginLocked(origin string, now time.Time) int {
	return lo.CountBy(lo.Values(s.sessions), func(r *record) bool {
		return r.session.OriginKey == origin && !r.session.Expired(s.cfg.Timeout, now)
	})
}

// Resolve returns the session for id when origin owns it and it has not
// expired, bumping its last activity. Any failure is ErrSessionNotFound.
func (s *Store) Resolve(id, origin string) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec, err := s.lookupLocked(id, origin, now)
	if err != nil {
		return chat.Session{}, err
	}
	if now.After(rec.session.LastActivityAt) {
		rec.session.LastActivityAt = now
	}
	return rec.snapshot(), nil
}

// Peek is Resolve without the activity bump.
func (s *Store) Peek(id, origin string) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.lookupLocked(id, origin, s.now())
	if err != nil {
		return chat.Session{}, err
	}
	return rec.snapshot(), nil
}

func (s *Store) lookupLocked(id, origin string, now time.Time) (*record, error) {
	rec, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if rec.session.OriginKey != origin {
		s.metrics.HijackAttempt()
		log.Warn().
			Str("event", "session_hijack_attempt").
			Str("session", shortID(id)).
			Str("owner", rec.session.OriginKey).
			Str("origin", origin).
			Msg("session accessed from a different origin")
		return nil, ErrSessionNotFound
	}
	if rec.session.Expired(s.cfg.Timeout, now) {
		return nil, ErrSessionNotFound
	}
	return rec, nil
}

// Append records a message on a session resolved earlier in the same
// operation and returns it with the resulting history length. It does not
// re-check origin or expiry; it fails only when the record is gone.
func (s *Store) Append(id string, author chat.Author, text string) (chat.Message, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[id]
	if !ok {
		return chat.Message{}, 0, errors.Wrapf(ErrSessionNotFound, "append to %s", shortID(id))
	}

	msg := chat.Message{
		ID:        rec.nextMessageID,
		SessionID: id,
		Author:    author,
		Text:      text,
		CreatedAt: s.now(),
	}
	rec.nextMessageID++

	messages := append(rec.session.Messages, msg)
	if limit := s.cfg.MaxMessages; limit > 0 && len(messages) > limit {
		messages = append(make([]chat.Message, 0, limit), messages[len(messages)-limit:]...)
	}
	rec.session.Messages = messages

	return msg, len(messages), nil
}

// SweepExpired deletes every expired session and reports how many went.
func (s *Store) SweepExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, rec := range s.sessions {
		if rec.session.Expired(s.cfg.Timeout, now) {
			delete(s.sessions, id)
			removed++
		}
	}

	if removed > 0 {
		s.metrics.SessionsSwept(removed)
		log.Debug().Int("count", removed).Int("remaining", len(s.sessions)).Msg("swept expired sessions")
	}
	return removed
}

// CountActive returns the number of live sessions.
func (s *Store) CountActive() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	return lo.CountBy(lo.Values(s.sessions), func(r *record) bool {
		return !r.session.Expired(s.cfg.Timeout, now)
	})
}

// Size returns the number of stored records, expired or not.
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Run sweeps on SweepInterval until ctx is done.
func (s *Store) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.cfg.SweepInterval).Dur("timeout", s.cfg.Timeout).Msg("session sweeper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("session sweeper stopped")
			return nil
		case <-ticker.C:
			s.SweepExpired()
		}
	}
}

// GenerateID returns a 64 character hex token read from crypto/rand.
func GenerateID() (string, error) {
	b := make([]byte, idBytes)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "generate session id")
	}
	return hex.EncodeToString(b), nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
