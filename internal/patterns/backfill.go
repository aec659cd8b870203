package patterns

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Backfiller embeds patterns that were saved without a vector, typically
// because the embedder was unreachable at save time.
type Backfiller struct {
	store    Store
	embedder BatchEmbedder
	batch    int
	poll     time.Duration
	logger   *slog.Logger
}

// NewBackfiller creates a Backfiller. If pollInterval is <= 0, it defaults
// to 30s. If batchSize is <= 0, it defaults to 32.
func NewBackfiller(store Store, embedder BatchEmbedder, batchSize int, pollInterval time.Duration) *Backfiller {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 32
	}
	return &Backfiller{
		store:    store,
		embedder: embedder,
		batch:    batchSize,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Run backfills until ctx is cancelled.
func (b *Backfiller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		n, err := b.RunOnce(ctx)
		if err != nil {
			b.logger.Error("backfill iteration failed", "error", err)
		}
		// A full batch likely means more are waiting.
		if err == nil && n == b.batch {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(b.poll):
		}
	}
}

// RunOnce embeds one batch of patterns missing a vector and returns how many
// were updated.
func (b *Backfiller) RunOnce(ctx context.Context) (int, error) {
	missing, err := b.store.PatternsMissingEmbedding(ctx, b.batch)
	if err != nil {
		return 0, fmt.Errorf("listing patterns without embedding: %w", err)
	}
	if len(missing) == 0 {
		return 0, nil
	}

	texts := make([]string, len(missing))
	for i, p := range missing {
		texts[i] = EmbeddingText(p)
	}
	vecs, err := b.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embedding %d patterns: %w", len(texts), err)
	}
	if len(vecs) != len(missing) {
		return 0, fmt.Errorf("embedder returned %d vectors for %d patterns", len(vecs), len(missing))
	}

	updated := 0
	for i, p := range missing {
		if len(vecs[i]) == 0 {
			b.logger.Warn("empty embedding, skipping pattern", "id", p.ID)
			continue
		}
		if err := b.store.SetPatternEmbedding(ctx, p.ID, vecs[i]); err != nil {
			return updated, fmt.Errorf("storing embedding for %s: %w", p.ID, err)
		}
		updated++
	}
	b.logger.Info("backfilled pattern embeddings", "count", updated)
	return updated, nil
}
