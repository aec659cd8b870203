// Package api exposes planning sessions, code generation, learned
// preferences and security patterns over HTTP and MCP.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/specforge/internal/assistant"
	"github.com/kalambet/specforge/internal/learning"
	"github.com/kalambet/specforge/internal/patterns"
	"github.com/kalambet/specforge/internal/planner"
	"github.com/kalambet/specforge/internal/progress"
)

// SchemaIniter creates the primary store's tables. Implemented by
// storage.Store and postgres.Store.
type SchemaIniter interface {
	InitSchema(ctx context.Context) error
}

type AppDeps struct {
	Token      string
	Planner    *planner.Planner
	Sessions   *progress.Sessions
	Assistant  *assistant.Assistant
	Learning   *learning.Store
	Patterns   *patterns.Service
	Extractor  *patterns.Extractor
	Backfiller *patterns.Backfiller // optional; nil disables POST /patterns/backfill
	Schema     SchemaIniter         // optional; nil when no primary store is configured
	// MinSimilarity is the search threshold used when the request sets none.
	MinSimilarity float64
}

// NewAppHandler returns the full API. /health is public; everything else
// requires the bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/plan", handlePlan(deps))
		r.Post("/sessions", handleCreateSession(deps))
		r.Get("/sessions/{id}", handleGetSession(deps))
		r.Delete("/sessions/{id}", handleDeleteSession(deps))
		r.Patch("/sessions/{id}/questions/{qid}", handleUpdateQuestion(deps))
		r.Put("/sessions/{id}/current", handleSetCurrent(deps))
		r.Post("/sessions/{id}/analytics", handleUpdateAnalytics(deps))
		r.Get("/sessions/{id}/phases/{phase}", handlePhaseProgress(deps))

		r.Post("/generate-code", handleGenerateCode(deps))
		r.Post("/learn-correction", handleLearnCorrection(deps))
		r.Post("/history", handleAcceptSuggestion(deps))
		r.Get("/history", handleListHistory(deps))
		r.Get("/preferences", handleListPreferences(deps))
		r.Get("/preferences/context", handlePreferenceContext(deps))

		r.Get("/patterns", handleListPatterns(deps))
		r.Delete("/patterns", handleCleanupPatterns(deps))
		r.Post("/patterns/extract", handleExtractPatterns(deps))
		r.Get("/patterns/sample", handleSamplePatterns(deps))
		r.Post("/patterns/backfill", handleBackfillPatterns(deps))
		r.Get("/patterns/{id}", handleGetPattern(deps))
		r.Post("/patterns/{id}/reinforce", handleReinforcePattern(deps))

		r.Get("/db/status", handleDBStatus(deps))
		r.Post("/db/init", handleDBInit(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
