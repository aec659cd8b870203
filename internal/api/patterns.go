package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/specforge/internal/patterns"
)

type ExtractRequest struct {
	OriginalCode string `json:"originalCode"`
	ModifiedCode string `json:"modifiedCode"`
	OriginalName string `json:"originalName"`
	ModifiedName string `json:"modifiedName"`
	Save         bool   `json:"save"`
	TaskContext  string `json:"taskContext"`
}

func handleListPatterns(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		pt, err := patterns.ParsePatternType(q.Get("type"))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		limit := parseIntParam(r, "limit", 100, 1000)

		var out any
		var count int
		if search := q.Get("search"); search != "" {
			res, err := deps.Patterns.Search(r.Context(), search, patterns.SearchOptions{
				PatternType:   pt,
				Limit:         limit,
				MinSimilarity: parseFloatParam(r, "minSimilarity", deps.MinSimilarity),
			})
			if err != nil {
				httpError(w, http.StatusBadGateway, "api_error", "failed to search patterns: %v", err)
				return
			}
			out, count = res, len(res)
		} else {
			res, err := deps.Patterns.List(r.Context(), patterns.ListOptions{
				PatternType:   pt,
				MinConfidence: parseFloatParam(r, "minConfidence", 0),
				Limit:         limit,
			})
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to list patterns: %v", err)
				return
			}
			out, count = res, len(res)
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success":  true,
			"count":    count,
			"patterns": out,
		})
	}
}

func patternResult(w http.ResponseWriter, p patterns.Pattern, err error) {
	if errors.Is(err, patterns.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "pattern not found")
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "pattern error: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func handleGetPattern(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Patterns.Get(r.Context(), chi.URLParam(r, "id"))
		patternResult(w, p, err)
	}
}

func handleReinforcePattern(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Patterns.Reinforce(r.Context(), chi.URLParam(r, "id"))
		patternResult(w, p, err)
	}
}

func handleCleanupPatterns(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := deps.Patterns.Cleanup(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to clean up patterns: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":        true,
			"deletedCount":   res.Deleted,
			"remainingCount": res.Remaining,
		})
	}
}

func handleExtractPatterns(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ExtractRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.OriginalCode == "" || req.ModifiedCode == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "originalCode and modifiedCode are required")
			return
		}

		res, err := deps.Extractor.Extract(r.Context(), req.OriginalCode, req.ModifiedCode, patterns.ExtractOptions{
			OriginalName: req.OriginalName,
			ModifiedName: req.ModifiedName,
			Save:         req.Save,
			TaskContext:  req.TaskContext,
		})
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "failed to extract patterns: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleSamplePatterns(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := deps.Extractor.Sample(r.Context(), patterns.ExtractOptions{
			Save:        r.URL.Query().Get("save") == "true",
			TaskContext: "Sample login endpoint hardening",
		})
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "failed to extract sample patterns: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleBackfillPatterns(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Backfiller == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "embedding backfill is not available")
			return
		}
		n, err := deps.Backfiller.RunOnce(r.Context())
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "backfill failed after %d patterns: %v", n, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "embedded": n})
	}
}

func handleDBStatus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Learning.Status(r.Context()))
	}
}

func handleDBInit(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Schema == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "no primary database configured")
			return
		}
		if err := deps.Schema.InitSchema(r.Context()); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to initialize database: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Database initialized successfully"})
	}
}
