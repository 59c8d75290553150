// Package ws serves the chat pipeline over a websocket: one JSON frame in,
// one JSON frame out, with the session remembered per connection.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/zhouzirui/chat-relay/backend/internal/middleware"
	chatService "github.com/zhouzirui/chat-relay/backend/internal/service/chat"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
	maxFrameSize = 1 << 20
)

// Handler WebSocket 聊天处理器
type Handler struct {
	pipeline *chatService.Pipeline
	upgrader websocket.Upgrader
}

// New 创建WebSocket处理器。allowedOrigin 与 CORS 配置一致。
func New(pipeline *chatService.Pipeline, allowedOrigin string) *Handler {
	return &Handler{
		pipeline: pipeline,
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(allowedOrigin),
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/chat/ws", h.handleWebSocket)
}

type inboundFrame struct {
	Message   json.RawMessage `json:"message"`
	SessionID json.RawMessage `json:"sessionId"`
}

type outboundFrame struct {
	Type      string         `json:"type"`
	SessionID string         `json:"sessionId,omitempty"`
	Status    int            `json:"status,omitempty"`
	Error     string         `json:"error,omitempty"`
	Details   string         `json:"details,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// handleWebSocket 处理WebSocket连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	logger := hlog.FromRequest(r)
	origin := middleware.ClientOrigin(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go pingLoop(ctx, conn)

	logger.Info().Msg("websocket connected")
	sessionID := ""

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			h.write(conn, logger, outboundFrame{Type: "error", Status: http.StatusBadRequest, Error: "Invalid request body"})
			continue
		}
		frameID := stringField(frame.SessionID)
		if frameID == "" {
			frameID = sessionID
		}

		result, err := h.pipeline.Handle(ctx, chatService.Input{
			Message:   stringField(frame.Message),
			SessionID: frameID,
			Origin:    origin,
		})
		// Only ids the pipeline accepted are remembered for later frames.
		switch {
		case result.SessionID != "":
			sessionID = result.SessionID
		case isSessionInvalid(err):
			sessionID = ""
		}
		if err != nil {
			h.write(conn, logger, errorFrame(err, result.SessionID))
			continue
		}

		h.write(conn, logger, outboundFrame{Type: "reply", SessionID: result.SessionID, Data: result.Payload()})
	}
}

func (h *Handler) write(conn *websocket.Conn, logger *zerolog.Logger, frame outboundFrame) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(frame); err != nil {
		logger.Warn().Err(err).Str("type", frame.Type).Msg("websocket write failed")
	}
}

func isSessionInvalid(err error) bool {
	var chatErr *chatService.Error
	return errors.As(err, &chatErr) && chatErr.Kind == chatService.KindSessionInvalid
}

func errorFrame(err error, sessionID string) outboundFrame {
	var chatErr *chatService.Error
	if !errors.As(err, &chatErr) {
		return outboundFrame{Type: "error", SessionID: sessionID, Status: http.StatusInternalServerError, Error: chatService.MsgInternal}
	}
	return outboundFrame{
		Type:      "error",
		SessionID: sessionID,
		Status:    chatErr.Status,
		Error:     chatErr.Message,
		Details:   chatErr.Details,
	}
}

// pingLoop 定期发送ping消息。WriteControl 可与 WriteJSON 并发调用。
func pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

func originChecker(allowedOrigin string) func(*http.Request) bool {
	allowed := strings.TrimSpace(allowedOrigin)
	if allowed == "" || allowed == "*" {
		return func(*http.Request) bool { return true }
	}

	origins := make(map[string]struct{})
	for _, o := range strings.Split(allowed, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins[o] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := origins[origin]
		return ok
	}
}

func stringField(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
