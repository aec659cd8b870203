// Package embedding turns text into vectors for pattern similarity search.
package embedding

import (
	"context"
	"fmt"

	"github.com/kalambet/specforge/internal/config"
	"github.com/kalambet/specforge/internal/ollama"
	"golang.org/x/sync/errgroup"
)

// Embedder generates embeddings for one or many texts.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
}

// FromConfig builds the embedder selected by embed.provider.
func FromConfig(ctx context.Context, cfg config.Config) (Embedder, error) {
	switch cfg.Embed.Provider {
	case "genai":
		return NewGenAI(ctx, cfg.Embed.GenAIAPIKey, cfg.Embed.Model)
	case "ollama":
		return NewOllama(ollama.New(cfg.Ollama.BaseURL), cfg.Ollama.EmbedModel), nil
	default:
		return nil, fmt.Errorf("unknown embed provider %q", cfg.Embed.Provider)
	}
}

// Ollama embeds through a local Ollama server.
type Ollama struct {
	client *ollama.Client
	model  string
}

func NewOllama(c *ollama.Client, model string) *Ollama {
	return &Ollama{client: c, model: model}
}

func (e *Ollama) Name() string { return "ollama:" + e.model }

// Embed returns the embedding vector for a single text.
func (e *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.client.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	return vec, nil
}

// EmbedBatch embeds texts concurrently, at most four at a time.
// Returns nil (not error) for empty input.
func (e *Ollama) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedConcurrently(ctx, texts, e.Embed)
}

func embedConcurrently(ctx context.Context, texts []string, embed func(context.Context, string) ([]float32, error)) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, text := range texts {
		g.Go(func() error {
			vec, err := embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
