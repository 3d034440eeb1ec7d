package out

import (
	"context"
	"time"

	"guard_server/core/domain"
)

// ChatRequest is a single chat-completion attempt against one model.
type ChatRequest struct {
	BaseURL   string
	APIKey    string
	Model     string
	System    string
	User      string
	MaxTokens int
	Timeout   time.Duration
}

// ChatProvider performs exactly one provider call. It never retries.
type ChatProvider interface {
	Name() string
	Complete(ctx context.Context, req ChatRequest) domain.ChatOutcome
}
