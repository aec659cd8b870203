package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/specforge/internal/learning"
)

// --- Preferences ---

// Preferences returns every preference, oldest first.
func (s *Store) Preferences(ctx context.Context) ([]learning.LearnedPreference, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, description, example, task_context, timestamp
		FROM preferences ORDER BY timestamp ASC, rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying preferences: %w", err)
	}
	defer rows.Close()

	out := []learning.LearnedPreference{}
	for rows.Next() {
		var (
			p           learning.LearnedPreference
			ptype       string
			example     sql.NullString
			taskContext sql.NullString
		)
		if err := rows.Scan(&p.ID, &ptype, &p.Description, &example, &taskContext, &p.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning preference: %w", err)
		}
		p.Type = learning.PreferenceType(ptype)
		p.Example = example.String
		p.TaskContext = taskContext.String
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) AddPreference(ctx context.Context, p learning.LearnedPreference) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preferences (id, type, description, example, task_context, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, string(p.Type), p.Description, nullString(p.Example), nullString(p.TaskContext), p.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("inserting preference %s: %w", p.ID, err)
	}
	return nil
}

// --- Task history ---

// History returns the task history in insertion order.
func (s *Store) History(ctx context.Context) ([]learning.TaskHistory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, task_description, task_timestamp,
		       suggestion_code, suggestion_language, suggestion_explanation, suggestion_applied_preferences,
		       correction_original_code, correction_code, correction_feedback, correction_type,
		       accepted
		FROM task_history ORDER BY timestamp ASC, rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	out := []learning.TaskHistory{}
	for rows.Next() {
		var (
			h           learning.TaskHistory
			explanation sql.NullString
			applied     string
			corrOrig    sql.NullString
			corrCode    sql.NullString
			corrFB      sql.NullString
			corrType    sql.NullString
		)
		if err := rows.Scan(&h.Task.ID, &h.Task.Description, &h.Task.Timestamp,
			&h.Suggestion.Code, &h.Suggestion.Language, &explanation, &applied,
			&corrOrig, &corrCode, &corrFB, &corrType,
			&h.Accepted); err != nil {
			return nil, fmt.Errorf("scanning history: %w", err)
		}
		h.Suggestion.TaskID = h.Task.ID
		h.Suggestion.Explanation = explanation.String
		if err := json.Unmarshal([]byte(applied), &h.Suggestion.AppliedPreferences); err != nil {
			return nil, fmt.Errorf("decoding applied preferences for task %s: %w", h.Task.ID, err)
		}
		if h.Suggestion.AppliedPreferences == nil {
			h.Suggestion.AppliedPreferences = []string{}
		}
		if corrFB.Valid {
			h.Correction = &learning.CorrectionFeedback{
				TaskID:         h.Task.ID,
				OriginalCode:   corrOrig.String,
				CorrectedCode:  corrCode.String,
				Feedback:       corrFB.String,
				CorrectionType: learning.PreferenceType(corrType.String),
			}
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Store) AddHistory(ctx context.Context, h learning.TaskHistory) error {
	applied := h.Suggestion.AppliedPreferences
	if applied == nil {
		applied = []string{}
	}
	appliedJSON, err := json.Marshal(applied)
	if err != nil {
		return fmt.Errorf("encoding applied preferences: %w", err)
	}

	var corrOrig, corrCode, corrFB, corrType sql.NullString
	if c := h.Correction; c != nil {
		corrOrig = nullString(c.OriginalCode)
		corrCode = nullString(c.CorrectedCode)
		corrFB = sql.NullString{String: c.Feedback, Valid: true}
		corrType = nullString(string(c.CorrectionType))
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO task_history (
			id, task_id, task_description, task_timestamp,
			suggestion_code, suggestion_language, suggestion_explanation, suggestion_applied_preferences,
			correction_original_code, correction_code, correction_feedback, correction_type,
			accepted, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), h.Task.ID, h.Task.Description, h.Task.Timestamp,
		h.Suggestion.Code, h.Suggestion.Language, nullString(h.Suggestion.Explanation), string(appliedJSON),
		corrOrig, corrCode, corrFB, corrType,
		h.Accepted, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting history for task %s: %w", h.Task.ID, err)
	}
	return nil
}
