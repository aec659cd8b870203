// Package llm provides chat-completion clients behind a single interface.
package llm

import (
	"context"
	"fmt"
	"strings"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a provider-neutral chat completion request.
type Request struct {
	Messages    []Message
	Temperature float64
	// JSON asks the provider for a single JSON object as output.
	JSON      bool
	MaxTokens int
}

// Client completes a chat and returns the assistant text.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Func adapts a function to Client.
type Func func(ctx context.Context, req Request) (string, error)

func (f Func) Complete(ctx context.Context, req Request) (string, error) { return f(ctx, req) }

// Mock returns a client that never leaves the process. JSON requests get an
// empty object; text requests get a short echo of the last user message.
func Mock() Client {
	return Func(func(ctx context.Context, req Request) (string, error) {
		if req.JSON {
			return "{}", nil
		}
		var last string
		for _, m := range req.Messages {
			if m.Role == RoleUser {
				last = m.Content
			}
		}
		last = strings.TrimSpace(last)
		if len(last) > 80 {
			last = last[:80] + "..."
		}
		return fmt.Sprintf("Mock response for: %s", last), nil
	})
}
