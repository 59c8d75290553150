package chat

import (
	"fmt"
	"net/http"
)

// Kind classifies a failed request.
type Kind string

const (
	KindInvalidInput       Kind = "invalid_input"
	KindSessionInvalid     Kind = "session_invalid"
	KindQuotaExceeded      Kind = "quota_exceeded"
	KindGatewayUnavailable Kind = "gateway_unavailable"
	KindGatewayError       Kind = "gateway_error"
	KindInvalidUpstream    Kind = "invalid_upstream_response"
	KindInternal           Kind = "internal"
)

// Client-facing messages.
const (
	MsgMessageRequired    = "Message is required and must be a string"
	MsgSessionInvalid     = "Invalid or expired session. Please create a new session."
	MsgSessionNotFound    = "Session not found or expired"
	MsgQuotaExceeded      = "Too many active sessions. Please try again later."
	MsgGatewayUnavailable = "Failed to contact webhook service"
	MsgInvalidUpstream    = "Webhook returned invalid JSON"
	MsgInternal           = "Internal server error"
)

// MsgMessageTooLong formats the length violation for limit characters.
func MsgMessageTooLong(limit int) string {
	return fmt.Sprintf("Message too long (max %d characters)", limit)
}

// Error is a classified failure carrying the HTTP status and the JSON body
// the client receives.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Details string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func invalidInput(msg string) *Error {
	return &Error{Kind: KindInvalidInput, Status: http.StatusBadRequest, Message: msg}
}

func internalError(err error, debug bool) *Error {
	e := &Error{Kind: KindInternal, Status: http.StatusInternalServerError, Message: MsgInternal, Err: err}
	if debug && err != nil {
		e.Details = err.Error()
	}
	return e
}
