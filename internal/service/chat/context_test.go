package chat

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zhouzirui/chat-relay/backend/internal/model/chat"
)

func conversation(n int) []chat.Message {
	messages := make([]chat.Message, 0, n)
	for i := 0; i < n; i++ {
		author := chat.AuthorUser
		if i%2 == 1 {
			author = chat.AuthorBot
		}
		messages = append(messages, chat.Message{ID: int64(i + 1), Author: author, Text: fmt.Sprintf("m%d", i+1)})
	}
	return messages
}

func TestBuildContextEmpty(t *testing.T) {
	assert.Equal(t, "", BuildContext(nil, 10))
}

func TestBuildContextShortHistory(t *testing.T) {
	got := BuildContext(conversation(3), 10)
	assert.Equal(t, "User: m1\nAssistant: m2\nUser: m3", got)
}

func TestBuildContextKeepsMostRecent(t *testing.T) {
	got := BuildContext(conversation(14), 10)
	lines := strings.Split(got, "\n")

	assert.Len(t, lines, 10)
	assert.Equal(t, "User: m5", lines[0])
	assert.Equal(t, "Assistant: m14", lines[9])
}

func TestBuildContextDefaultsLimit(t *testing.T) {
	got := BuildContext(conversation(12), 0)
	assert.Len(t, strings.Split(got, "\n"), DefaultContextLimit)
}

func TestBuildContextIsPure(t *testing.T) {
	messages := conversation(4)
	first := BuildContext(messages, 2)
	second := BuildContext(messages, 2)

	assert.Equal(t, first, second)
	assert.Equal(t, "User: m3\nAssistant: m4", first)
	assert.Len(t, messages, 4)
}
