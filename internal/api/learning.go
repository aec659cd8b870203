package api

import (
	"errors"
	"net/http"

	"github.com/kalambet/specforge/internal/assistant"
	"github.com/kalambet/specforge/internal/learning"
)

type GenerateCodeRequest struct {
	TaskDescription string `json:"taskDescription"`
	TaskID          string `json:"taskId"`
}

type LearnCorrectionRequest struct {
	Correction  *learning.CorrectionFeedback `json:"correction"`
	TaskHistory *learning.TaskHistory        `json:"taskHistory"`
}

func handleGenerateCode(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req GenerateCodeRequest
		if !decodeBody(w, r, &req) {
			return
		}

		s, err := deps.Assistant.GenerateCode(r.Context(), learning.CodingTask{ID: req.TaskID, Description: req.TaskDescription})
		if errors.Is(err, assistant.ErrEmptyTask) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "taskDescription is required")
			return
		}
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "failed to generate code: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"suggestion": s})
	}
}

func handleLearnCorrection(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LearnCorrectionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Correction == nil || req.TaskHistory == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "correction and taskHistory are required")
			return
		}
		if _, err := learning.ParsePreferenceType(string(req.Correction.CorrectionType)); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		pref, err := deps.Assistant.LearnFromCorrection(r.Context(), *req.Correction, *req.TaskHistory)
		if errors.Is(err, assistant.ErrEmptyCorrection) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "correction feedback is required")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to learn from correction: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "learnedPreference": pref})
	}
}

func handleAcceptSuggestion(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var h learning.TaskHistory
		if !decodeBody(w, r, &h) {
			return
		}
		if h.Task.Description == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "task.description is required")
			return
		}
		if err := deps.Assistant.AcceptSuggestion(r.Context(), h); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to record history: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]bool{"success": true})
	}
}

func handleListHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hist, err := deps.Learning.History(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load history: %v", err)
			return
		}
		if hist == nil {
			hist = []learning.TaskHistory{}
		}
		writeJSON(w, http.StatusOK, hist)
	}
}

func handleListPreferences(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		prefs, err := deps.Learning.Preferences(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load preferences: %v", err)
			return
		}
		if prefs == nil {
			prefs = []learning.LearnedPreference{}
		}
		writeJSON(w, http.StatusOK, prefs)
	}
}

func handlePreferenceContext(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		prefs, err := deps.Learning.Preferences(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load preferences: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"count":   len(prefs),
			"context": learning.BuildContextFromPreferences(prefs),
		})
	}
}
