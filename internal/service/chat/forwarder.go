//go:generate go run go.uber.org/mock/mockgen -source=forwarder.go -destination=../../mocks/mock_forwarder.go -package=mocks
package chat

import (
	"context"

	"github.com/zhouzirui/chat-relay/backend/internal/service/webhook"
)

// Forwarder delivers one turn downstream. *webhook.Gateway implements it.
type Forwarder interface {
	Forward(ctx context.Context, req webhook.Request) (webhook.Reply, error)
}

var _ Forwarder = (*webhook.Gateway)(nil)
