package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/specforge/internal/planner"
	"github.com/kalambet/specforge/internal/progress"
)

type PlanRequest struct {
	UserInput string `json:"userInput"`
}

type PlanResponse struct {
	SessionID string         `json:"sessionId"`
	Plan      planner.Plan   `json:"plan"`
	State     progress.State `json:"state"`
}

type CreateSessionRequest struct {
	Items    []progress.PlanItem `json:"items"`
	Analysis progress.Analysis   `json:"analysis"`
}

type SessionResponse struct {
	SessionID string         `json:"sessionId"`
	State     progress.State `json:"state"`
}

type SetCurrentRequest struct {
	QuestionID *string `json:"questionId"`
}

type PhaseProgressResponse struct {
	Phase    progress.Phase     `json:"phase"`
	Title    string             `json:"title"`
	Progress float64            `json:"progress"`
	Info     progress.PhaseInfo `json:"info"`
}

func openSession(deps AppDeps, items []progress.PlanItem, analysis progress.Analysis) (string, progress.State) {
	s := progress.Reduce(progress.NewState(), progress.InitializeFromPlan{
		Items:     items,
		Analysis:  analysis,
		StartedAt: time.Now().UnixMilli(),
	})
	return deps.Sessions.Create(s), s
}

func handlePlan(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PlanRequest
		if !decodeBody(w, r, &req) {
			return
		}

		plan, err := deps.Planner.Generate(r.Context(), req.UserInput)
		if errors.Is(err, planner.ErrEmptyInput) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "userInput is required")
			return
		}
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "failed to generate plan: %v", err)
			return
		}

		id, state := openSession(deps, plan.Items(), plan.Analysis)
		writeJSON(w, http.StatusOK, PlanResponse{SessionID: id, Plan: plan, State: state})
	}
}

func handleCreateSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateSessionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		id, state := openSession(deps, req.Items, req.Analysis)
		writeJSON(w, http.StatusCreated, SessionResponse{SessionID: id, State: state})
	}
}

// sessionResult writes the outcome of a session operation.
func sessionResult(w http.ResponseWriter, id string, state progress.State, err error) {
	if errors.Is(err, progress.ErrSessionNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "session not found")
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "session error: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{SessionID: id, State: state})
}

func handleGetSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		state, err := deps.Sessions.Get(id)
		sessionResult(w, id, state, err)
	}
}

func handleDeleteSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Sessions.Delete(chi.URLParam(r, "id"))
		if errors.Is(err, progress.ErrSessionNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleUpdateQuestion(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var u progress.QuestionUpdate
		if !decodeBody(w, r, &u) {
			return
		}
		id := chi.URLParam(r, "id")
		state, err := deps.Sessions.Apply(id, progress.UpdateQuestionProgress{
			QuestionID: chi.URLParam(r, "qid"),
			Update:     u,
		})
		sessionResult(w, id, state, err)
	}
}

func handleSetCurrent(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SetCurrentRequest
		if !decodeBody(w, r, &req) {
			return
		}
		id := chi.URLParam(r, "id")
		state, err := deps.Sessions.Apply(id, progress.SetCurrentQuestion{QuestionID: req.QuestionID})
		sessionResult(w, id, state, err)
	}
}

func handleUpdateAnalytics(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var a progress.UpdateAnalytics
		if !decodeBody(w, r, &a) {
			return
		}
		id := chi.URLParam(r, "id")
		state, err := deps.Sessions.Apply(id, a)
		sessionResult(w, id, state, err)
	}
}

func handlePhaseProgress(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		phase := progress.Phase(chi.URLParam(r, "phase"))
		if !phase.Valid() {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown phase %q", phase)
			return
		}
		state, err := deps.Sessions.Get(chi.URLParam(r, "id"))
		if errors.Is(err, progress.ErrSessionNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "session error: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, PhaseProgressResponse{
			Phase:    phase,
			Title:    phase.Title(),
			Progress: progress.PhaseProgress(state, phase),
			Info:     state.Phases[phase],
		})
	}
}
