package patterns

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultSearchLimit = 10
	defaultListLimit   = 100
)

// Service saves, searches and reinforces patterns on top of a Store.
type Service struct {
	store           Store
	embedder        Embedder
	reinforceByName bool
	now             func() time.Time
	logger          *slog.Logger
}

// NewService creates a Service. When reinforceByName is set, saving a
// pattern whose name matches an existing pattern of the same type
// (case-insensitively) reinforces the existing one instead of inserting.
func NewService(store Store, embedder Embedder, reinforceByName bool) *Service {
	return &Service{
		store:           store,
		embedder:        embedder,
		reinforceByName: reinforceByName,
		now:             time.Now,
		logger:          slog.Default(),
	}
}

// SaveSecurityPattern stores an extracted security pattern. If the embedding
// call fails the pattern is stored without a vector and picked up later by
// the Backfiller.
func (s *Service) SaveSecurityPattern(ctx context.Context, sp SecurityPattern, taskContext string) (Pattern, error) {
	name := strings.TrimSpace(sp.Name)
	if name == "" {
		return Pattern{}, fmt.Errorf("pattern name is required")
	}

	if s.reinforceByName {
		existing, ok, err := s.store.FindPatternByName(ctx, TypeSecurity, name)
		if err != nil {
			return Pattern{}, fmt.Errorf("looking up pattern %q: %w", name, err)
		}
		if ok {
			s.logger.Debug("pattern re-observed", "id", existing.ID, "name", name)
			return s.Reinforce(ctx, existing.ID)
		}
	}

	deps := sp.Dependencies
	if deps == nil {
		deps = []string{}
	}
	now := s.now().UnixMilli()
	p := Pattern{
		ID:          newPatternID(now),
		PatternType: TypeSecurity,
		Name:        name,
		Description: sp.ChangeNarrative,
		Metadata: map[string]any{
			"threatMitigated":  sp.ThreatMitigated,
			"controlLayer":     string(sp.ControlLayer),
			"dependencies":     deps,
			"operationalNotes": sp.OperationalNotes,
			"changeNarrative":  sp.ChangeNarrative,
		},
		Confidence:       InitialConfidence,
		ObservationCount: 1,
		TaskContext:      taskContext,
		Evidence:         sp.EvidenceFromDiff,
		FirstSeen:        now,
		LastSeen:         now,
	}

	var vec []float32
	if s.embedder != nil {
		v, err := s.embedder.Embed(ctx, EmbeddingText(p))
		if err != nil {
			s.logger.Warn("embedding pattern failed, saving without vector", "name", name, "error", err)
		} else {
			vec = v
		}
	}

	if err := s.store.InsertPattern(ctx, p, vec); err != nil {
		return Pattern{}, fmt.Errorf("saving pattern %q: %w", name, err)
	}
	return p, nil
}

// Search embeds query and returns the nearest patterns. Zero Limit means 10.
func (s *Service) Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("search query is required")
	}
	if s.embedder == nil {
		return nil, fmt.Errorf("no embedder configured")
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultSearchLimit
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	results, err := s.store.SearchPatterns(ctx, vec, opts)
	if err != nil {
		return nil, fmt.Errorf("searching patterns: %w", err)
	}
	if results == nil {
		results = []SearchResult{}
	}
	return results, nil
}

// List returns patterns by confidence, most confident first. Zero Limit
// means 100.
func (s *Service) List(ctx context.Context, opts ListOptions) ([]Pattern, error) {
	if opts.Limit <= 0 {
		opts.Limit = defaultListLimit
	}
	out, err := s.store.ListPatterns(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("listing patterns: %w", err)
	}
	if out == nil {
		out = []Pattern{}
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id string) (Pattern, error) {
	return s.store.GetPattern(ctx, id)
}

// Reinforce records one more observation of pattern id and returns the
// updated pattern.
func (s *Service) Reinforce(ctx context.Context, id string) (Pattern, error) {
	if err := s.store.ReinforcePattern(ctx, id, s.now().UnixMilli()); err != nil {
		return Pattern{}, fmt.Errorf("reinforcing pattern %s: %w", id, err)
	}
	return s.store.GetPattern(ctx, id)
}

// Cleanup deletes patterns that have no embedding.
func (s *Service) Cleanup(ctx context.Context) (CleanupResult, error) {
	res, err := s.store.DeletePatternsWithoutEmbedding(ctx)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("cleaning up patterns: %w", err)
	}
	s.logger.Info("pattern cleanup", "deleted", res.Deleted, "remaining", res.Remaining)
	return res, nil
}

func newPatternID(ms int64) string {
	return fmt.Sprintf("pattern_%d_%s", ms, uuid.New().String()[:8])
}
