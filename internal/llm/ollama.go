package llm

import (
	"context"

	"github.com/kalambet/specforge/internal/ollama"
)

// Ollama adapts an Ollama client to Client.
type Ollama struct {
	client *ollama.Client
	model  string
}

func NewOllama(c *ollama.Client, model string) *Ollama {
	return &Ollama{client: c, model: model}
}

func (o *Ollama) Complete(ctx context.Context, req Request) (string, error) {
	msgs := make([]ollama.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = ollama.Message{Role: m.Role, Content: m.Content}
	}
	temp := req.Temperature
	opts := ollama.ChatOptions{Temperature: &temp}
	if req.JSON {
		opts.Format = "json"
	}
	return o.client.Chat(ctx, o.model, msgs, opts)
}
