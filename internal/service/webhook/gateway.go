// Package webhook forwards chat turns to the downstream webhook and
// normalizes whatever it answers with.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/chat-relay/backend/internal/metrics"
	"github.com/zhouzirui/chat-relay/backend/internal/model/chat"
)

// DefaultTimeout bounds one webhook round trip.
const DefaultTimeout = 30 * time.Second

// maxReplyBytes caps how much of an upstream body is read.
const maxReplyBytes = 1 << 20

// Config describes the downstream endpoint.
type Config struct {
	URL        string
	Credential Credential
	Timeout    time.Duration
}

// Request is one turn to forward.
type Request struct {
	Message   string
	Context   string
	SessionID string
}

type outboundPayload struct {
	Message   string `json:"message"`
	Context   string `json:"context"`
	Timestamp string `json:"timestamp"`
	SessionID string `json:"sessionId"`
	RequestID string `json:"requestId"`
	Proxy     bool   `json:"proxy"`
}

// Gateway performs a single attempt per Forward call; it never retries.
type Gateway struct {
	url        string
	credential Credential
	client     *http.Client
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewGateway builds a gateway. A nil client gets a fresh one with cfg.Timeout.
func NewGateway(cfg Config, client *http.Client, m *metrics.Metrics) *Gateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	credential := cfg.Credential
	if credential == nil {
		credential = StaticToken("")
	}
	return &Gateway{
		url:        cfg.URL,
		credential: credential,
		client:     client,
		metrics:    m,
		now:        time.Now,
	}
}

// Forward posts the turn and classifies the outcome:
// transport failure -> *UnavailableError, non-2xx -> *StatusError,
// unparseable 2xx body -> *InvalidResponseError.
func (g *Gateway) Forward(ctx context.Context, req Request) (Reply, error) {
	start := time.Now()
	reply, outcome, err := g.forward(ctx, req)
	g.metrics.ObserveWebhook(outcome, time.Since(start))
	return reply, err
}

func (g *Gateway) forward(ctx context.Context, req Request) (Reply, string, error) {
	requestID := uuid.NewString()
	now := g.now()

	body, err := json.Marshal(outboundPayload{
		Message:   req.Message,
		Context:   req.Context,
		Timestamp: chat.FormatTimestamp(now),
		SessionID: req.SessionID,
		RequestID: requestID,
		Proxy:     true,
	})
	if err != nil {
		return Reply{}, "error", errors.Wrap(err, "encode webhook payload")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return Reply{}, "unavailable", &UnavailableError{Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Proxy-Request", "true")
	httpReq.Header.Set("X-Request-ID", requestID)

	token, err := g.credential.Token(req.SessionID, requestID, now)
	if err != nil {
		return Reply{}, "error", err
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		log.Error().Err(err).Str("request_id", requestID).Msg("webhook unreachable")
		return Reply{}, "unavailable", &UnavailableError{Err: err}
	}
	defer resp.Body.Close()

	log.Info().
		Str("request_id", requestID).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(now)).
		Msg("webhook responded")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxReplyBytes))
		return Reply{}, "status", &StatusError{StatusCode: resp.StatusCode}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return Reply{}, "unavailable", &UnavailableError{Err: err}
	}
	log.Debug().Str("request_id", requestID).Str("body", string(raw)).Msg("webhook body")

	reply, err := Normalize(raw)
	if err != nil {
		log.Error().Err(err).Str("request_id", requestID).Msg("webhook returned invalid JSON")
		return Reply{}, "invalid", err
	}
	reply.RequestID = requestID
	return reply, "ok", nil
}
