// Package chat runs one chat turn end to end: validation, session
// resolution, context assembly, the webhook call and history recording.
package chat

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/chat-relay/backend/internal/model/chat"
	"github.com/zhouzirui/chat-relay/backend/internal/service/session"
	"github.com/zhouzirui/chat-relay/backend/internal/service/webhook"
)

// DefaultMaxMessageLength is the ingress limit in characters.
const DefaultMaxMessageLength = 1000

// Mode selects what happens when a supplied session id does not resolve.
type Mode string

const (
	// ModeStrict rejects the request with SessionInvalid.
	ModeStrict Mode = "strict"
	// ModeFallback opens a new session and carries on.
	ModeFallback Mode = "fallback"
)

// Config tunes the pipeline.
type Config struct {
	Mode             Mode
	ContextLimit     int
	MaxMessageLength int
	// Debug exposes internal failure details to clients.
	Debug bool
}

// Input is one inbound chat request. An empty Message means the client sent
// none or sent something other than a string.
type Input struct {
	Message   string
	SessionID string
	Origin    string
}

// Result is a completed turn.
type Result struct {
	Reply          webhook.Reply
	SessionID      string
	SessionCreated bool
	MessageCount   int
	ExpiresIn      time.Duration
}

// Payload is the client body: the normalized reply plus session metadata.
func (r Result) Payload() map[string]any {
	payload := r.Reply.Payload()
	payload["sessionId"] = r.SessionID
	payload["messageCount"] = r.MessageCount
	payload["sessionExpiresIn"] = r.ExpiresIn.Milliseconds()
	return payload
}

// Pipeline couples the session store to the webhook.
type Pipeline struct {
	store     *session.Store
	forwarder Forwarder
	cfg       Config
	validate  *validator.Validate
}

// NewPipeline wires a pipeline.
func NewPipeline(store *session.Store, forwarder Forwarder, cfg Config) *Pipeline {
	if cfg.Mode == "" {
		cfg.Mode = ModeStrict
	}
	if cfg.ContextLimit <= 0 {
		cfg.ContextLimit = DefaultContextLimit
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = DefaultMaxMessageLength
	}
	return &Pipeline{
		store:     store,
		forwarder: forwarder,
		cfg:       cfg,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Handle runs one turn. On failure the returned Result still carries the
// session id when this call created the session, so callers can surface it.
func (p *Pipeline) Handle(ctx context.Context, in Input) (Result, error) {
	if err := p.validateMessage(in.Message); err != nil {
		return Result{}, err
	}

	sess, created, err := p.resolveSession(in)
	if err != nil {
		return Result{}, err
	}
	result := Result{SessionID: sess.ID, SessionCreated: created}

	log.Info().
		Str("session", shortID(sess.ID)).
		Str("message", truncate(in.Message, 50)).
		Msg("processing message")

	contextText := BuildContext(sess.Messages, p.cfg.ContextLimit)

	// The user turn is recorded before the call so a failed call still leaves it in history.
	if _, _, err := p.store.Append(sess.ID, chat.AuthorUser, in.Message); err != nil {
		return result, internalError(err, p.cfg.Debug)
	}

	// A client that goes away must not cut the call short and leave a half-recorded turn.
	reply, err := p.forwarder.Forward(context.WithoutCancel(ctx), webhook.Request{
		Message:   in.Message,
		Context:   contextText,
		SessionID: sess.ID,
	})
	if err != nil {
		return result, p.gatewayError(err)
	}

	_, count, err := p.store.Append(sess.ID, chat.AuthorBot, reply.Text)
	if err != nil {
		log.Warn().Err(err).Str("session", shortID(sess.ID)).Msg("session vanished before the reply was recorded")
		count = len(sess.Messages) + 2
	}

	result.Reply = reply
	result.MessageCount = count
	result.ExpiresIn = sess.ExpiresIn(p.store.Timeout(), p.store.Now())
	return result, nil
}

func (p *Pipeline) validateMessage(message string) *Error {
	if err := p.validate.Var(message, "required"); err != nil {
		return invalidInput(MsgMessageRequired)
	}
	if err := p.validate.Var(message, fmt.Sprintf("max=%d", p.cfg.MaxMessageLength)); err != nil {
		return invalidInput(MsgMessageTooLong(p.cfg.MaxMessageLength))
	}
	return nil
}

func (p *Pipeline) resolveSession(in Input) (chat.Session, bool, error) {
	if in.SessionID == "" {
		sess, err := p.store.CreateUnchecked(in.Origin)
		if err != nil {
			return chat.Session{}, false, internalError(err, p.cfg.Debug)
		}
		return sess, true, nil
	}

	sess, err := p.store.Resolve(in.SessionID, in.Origin)
	if err == nil {
		return sess, false, nil
	}
	if !errors.Is(err, session.ErrSessionNotFound) {
		return chat.Session{}, false, internalError(err, p.cfg.Debug)
	}

	if p.cfg.Mode == ModeFallback {
		log.Info().Str("origin", in.Origin).Msg("supplied session did not resolve, opening a new one")
		sess, err := p.store.CreateUnchecked(in.Origin)
		if err != nil {
			return chat.Session{}, false, internalError(err, p.cfg.Debug)
		}
		return sess, true, nil
	}

	return chat.Session{}, false, &Error{
		Kind:    KindSessionInvalid,
		Status:  http.StatusUnauthorized,
		Message: MsgSessionInvalid,
		Err:     err,
	}
}

func (p *Pipeline) gatewayError(err error) *Error {
	var statusErr *webhook.StatusError
	if errors.As(err, &statusErr) {
		// Redirect and informational codes cannot carry the JSON error body.
		status := statusErr.StatusCode
		if status < http.StatusBadRequest {
			status = http.StatusBadGateway
		}
		return &Error{
			Kind:    KindGatewayError,
			Status:  status,
			Message: fmt.Sprintf("Webhook error: %d", statusErr.StatusCode),
			Err:     err,
		}
	}

	var invalid *webhook.InvalidResponseError
	if errors.As(err, &invalid) {
		details := "Invalid response format"
		if p.cfg.Debug {
			details = invalid.Body
		}
		return &Error{
			Kind:    KindInvalidUpstream,
			Status:  http.StatusInternalServerError,
			Message: MsgInvalidUpstream,
			Details: details,
			Err:     err,
		}
	}

	if errors.Is(err, webhook.ErrUnavailable) {
		details := MsgInternal
		if p.cfg.Debug {
			details = err.Error()
		}
		return &Error{
			Kind:    KindGatewayUnavailable,
			Status:  http.StatusBadGateway,
			Message: MsgGatewayUnavailable,
			Details: details,
			Err:     err,
		}
	}

	return internalError(err, p.cfg.Debug)
}

// CreateSession opens a quota-checked session for origin.
func (p *Pipeline) CreateSession(origin string) (chat.Session, error) {
	sess, err := p.store.Create(origin)
	if errors.Is(err, session.ErrQuotaExceeded) {
		return chat.Session{}, &Error{
			Kind:    KindQuotaExceeded,
			Status:  http.StatusTooManyRequests,
			Message: MsgQuotaExceeded,
			Err:     err,
		}
	}
	if err != nil {
		return chat.Session{}, internalError(err, p.cfg.Debug)
	}
	return sess, nil
}

// Session describes a session without counting as activity.
func (p *Pipeline) Session(id, origin string) (chat.Session, error) {
	sess, err := p.store.Peek(id, origin)
	if err != nil {
		return chat.Session{}, &Error{
			Kind:    KindSessionInvalid,
			Status:  http.StatusNotFound,
			Message: MsgSessionNotFound,
			Err:     err,
		}
	}
	return sess, nil
}

// Timeout is the idle limit sessions are measured against.
func (p *Pipeline) Timeout() time.Duration {
	return p.store.Timeout()
}

// Now is the session clock.
func (p *Pipeline) Now() time.Time {
	return p.store.Now()
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
