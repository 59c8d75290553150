package webhook

import (
	"bytes"
	"encoding/json"
)

const (
	// AcknowledgementText stands in for an empty 2xx body.
	AcknowledgementText = "Webhook processed successfully"
	// FallbackText is used when a parseable reply carries no recognised text field.
	FallbackText = "Sorry, I couldn't process your request right now."
)

// Reply is the normalized webhook answer.
type Reply struct {
	// Text is the canonical reply recorded as the bot message.
	Text string
	// Fields holds the top-level members of an object body, nil otherwise.
	Fields map[string]any
	// RequestID is the identifier sent with the outbound call.
	RequestID string
}

// Payload returns the upstream fields untouched and adds the canonical text
// under "response" only when the upstream object has no such member. A
// non-string upstream "response" is passed through even though Text holds
// FallbackText.
func (r Reply) Payload() map[string]any {
	out := make(map[string]any, len(r.Fields)+1)
	for k, v := range r.Fields {
		out[k] = v
	}
	if _, ok := out["response"]; !ok {
		out["response"] = r.Text
	}
	return out
}

// Normalize turns a 2xx body into a Reply. Text precedence:
//  1. a list whose first element has a non-empty string "output"
//  2. an object with a non-empty string "response"
//  3. FallbackText
//
// An empty (or whitespace-only) body yields the acknowledgement reply.
func Normalize(body []byte) (Reply, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return Reply{
			Text:   AcknowledgementText,
			Fields: map[string]any{"message": AcknowledgementText},
		}, nil
	}

	var decoded any
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		return Reply{}, &InvalidResponseError{Body: string(body), Err: err}
	}

	reply := Reply{Text: FallbackText}
	switch v := decoded.(type) {
	case []any:
		if len(v) > 0 {
			if first, ok := v[0].(map[string]any); ok {
				if text, ok := nonEmptyString(first["output"]); ok {
					reply.Text = text
				}
			}
		}
	case map[string]any:
		reply.Fields = v
		if text, ok := nonEmptyString(v["response"]); ok {
			reply.Text = text
		}
	}
	return reply, nil
}

func nonEmptyString(v any) (string, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
