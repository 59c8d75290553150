package chat

import (
	"strings"

	"github.com/samber/lo"

	"github.com/zhouzirui/chat-relay/backend/internal/model/chat"
)

// DefaultContextLimit is how many trailing messages are sent downstream.
const DefaultContextLimit = 10

// BuildContext renders the last limit messages oldest first, one
// "<role>: <text>" line each.
func BuildContext(messages []chat.Message, limit int) string {
	if limit <= 0 {
		limit = DefaultContextLimit
	}
	if len(messages) == 0 {
		return ""
	}

	startIdx := 0
	if len(messages) > limit {
		startIdx = len(messages) - limit
	}

	lines := lo.Map(messages[startIdx:], func(msg chat.Message, _ int) string {
		return msg.Author.Role() + ": " + msg.Text
	})
	return strings.Join(lines, "\n")
}
