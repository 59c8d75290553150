package chat

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"

	"github.com/zhouzirui/chat-relay/backend/internal/middleware"
	chatService "github.com/zhouzirui/chat-relay/backend/internal/service/chat"
	"github.com/zhouzirui/chat-relay/backend/pkg/utils"
)

// SessionHeader carries a session id minted during a chat request.
const SessionHeader = "X-Session-ID"

// Handler 聊天服务的HTTP处理器
type Handler struct {
	pipeline *chatService.Pipeline
}

// New 创建聊天处理器
func New(pipeline *chatService.Pipeline) *Handler {
	return &Handler{pipeline: pipeline}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/session/create", h.handleCreateSession)
	r.Get("/session/{sessionID}", h.handleGetSession)
	r.Post("/chat", h.handleChat)
}

// handleCreateSession 创建会话
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.pipeline.CreateSession(middleware.ClientOrigin(r))
	if err != nil {
		respondPipelineError(w, r, err)
		return
	}

	hlog.FromRequest(r).Info().Str("session", shortID(sess.ID)).Msg("session created")
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"sessionId": sess.ID,
		"expiresIn": h.pipeline.Timeout().Milliseconds(),
		"message":   "Session created successfully",
	})
}

// handleGetSession 查询会话信息，不计入活跃时间
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.pipeline.Session(chi.URLParam(r, "sessionID"), middleware.ClientOrigin(r))
	if err != nil {
		respondPipelineError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, sess.Summarize(h.pipeline.Timeout(), h.pipeline.Now()))
}

type chatRequest struct {
	Message   json.RawMessage `json:"message"`
	SessionID json.RawMessage `json:"sessionId"`
}

// handleChat 处理一轮对话并转发给 webhook
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload chatRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.RespondError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.pipeline.Handle(r.Context(), chatService.Input{
		Message:   stringField(payload.Message),
		SessionID: stringField(payload.SessionID),
		Origin:    middleware.ClientOrigin(r),
	})
	if result.SessionCreated {
		w.Header().Set(SessionHeader, result.SessionID)
	}
	if err != nil {
		respondPipelineError(w, r, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, result.Payload())
}

// stringField returns the JSON string in raw, or "" for anything else.
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

func respondPipelineError(w http.ResponseWriter, r *http.Request, err error) {
	var chatErr *chatService.Error
	if !errors.As(err, &chatErr) {
		hlog.FromRequest(r).Error().Err(err).Msg("unclassified failure")
		utils.RespondError(w, http.StatusInternalServerError, chatService.MsgInternal)
		return
	}

	event := hlog.FromRequest(r).Warn()
	if chatErr.Status >= http.StatusInternalServerError {
		event = hlog.FromRequest(r).Error()
	}
	event.Err(err).Str("kind", string(chatErr.Kind)).Int("status", chatErr.Status).Msg("chat request failed")

	if chatErr.Details != "" {
		utils.RespondError(w, chatErr.Status, chatErr.Message, chatErr.Details)
		return
	}
	utils.RespondError(w, chatErr.Status, chatErr.Message)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
