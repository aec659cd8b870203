// Package assistant generates code that follows learned preferences and
// learns new preferences from user corrections.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/specforge/internal/learning"
	"github.com/kalambet/specforge/internal/llm"
)

const (
	codeTemperature    = 0.7
	extractTemperature = 0.3
	defaultLanguage    = "javascript"

	contextHeader = "\n\nLearned preferences from previous interactions:\n"
)

var (
	ErrEmptyTask       = errors.New("task description is required")
	ErrEmptyCorrection = errors.New("correction feedback is required")
)

var (
	fencedBlock = regexp.MustCompile("```(\\w+)?\\n([\\s\\S]*?)```")
	anyFence    = regexp.MustCompile("```[\\s\\S]*?```")
)

const preferenceSystemPrompt = "You are a pattern extraction assistant. Extract clear, actionable preferences from code corrections. Return only the preference statement, nothing else."

// Store is the subset of learning.Store the assistant needs.
type Store interface {
	Preferences(ctx context.Context) ([]learning.LearnedPreference, error)
	AddPreference(ctx context.Context, p learning.LearnedPreference) error
	AddHistory(ctx context.Context, h learning.TaskHistory) error
}

type Assistant struct {
	llm              llm.Client
	store            Store
	maxContextTokens int
	now              func() time.Time
	logger           *slog.Logger
}

// New creates an Assistant. If maxContextTokens <= 0, the default (4000) is
// used for the injected preference block.
func New(client llm.Client, store Store, maxContextTokens int) *Assistant {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Assistant{
		llm:              client,
		store:            store,
		maxContextTokens: maxContextTokens,
		now:              time.Now,
		logger:           slog.Default(),
	}
}

// GenerateCode asks the model for code solving task with the learned
// preferences in the system prompt. A task without an ID gets task_<unix ms>.
func (a *Assistant) GenerateCode(ctx context.Context, task learning.CodingTask) (learning.CodeSuggestion, error) {
	task.Description = strings.TrimSpace(task.Description)
	if task.Description == "" {
		return learning.CodeSuggestion{}, ErrEmptyTask
	}
	if task.ID == "" {
		task.ID = fmt.Sprintf("task_%d", a.now().UnixMilli())
	}

	prefs, err := a.store.Preferences(ctx)
	if err != nil {
		return learning.CodeSuggestion{}, fmt.Errorf("loading preferences: %w", err)
	}
	applied := fitPreferences(prefs, a.maxContextTokens-EstimateTokens(contextHeader))
	if len(applied) < len(prefs) {
		a.logger.Debug("preferences trimmed to token budget", "kept", len(applied), "total", len(prefs))
	}

	system := "You are a code generation assistant. Generate clean, production-ready code based on the user's task." +
		learning.BuildContextFromPreferences(applied) + `

Always follow the learned preferences above when generating code. If no preferences exist yet, use common best practices.

Provide:
1. The code itself
2. Brief explanation of the approach
3. The programming language used`

	resp, err := a.llm.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: task.Description},
		},
		Temperature: codeTemperature,
	})
	if err != nil {
		return learning.CodeSuggestion{}, fmt.Errorf("generating code: %w", err)
	}

	s := parseSuggestion(resp)
	s.TaskID = task.ID
	s.AppliedPreferences = make([]string, len(applied))
	for i, p := range applied {
		s.AppliedPreferences[i] = p.ID
	}
	return s, nil
}

// parseSuggestion splits a model response into the first fenced code block
// and the surrounding explanation. Without a fenced block the whole response
// is the code.
func parseSuggestion(resp string) learning.CodeSuggestion {
	m := fencedBlock.FindStringSubmatch(resp)
	if m == nil {
		return learning.CodeSuggestion{Code: resp, Language: defaultLanguage, Explanation: resp}
	}
	lang := m[1]
	if lang == "" {
		lang = defaultLanguage
	}
	explanation := resp
	if loc := anyFence.FindStringIndex(resp); loc != nil {
		explanation = resp[:loc[0]] + resp[loc[1]:]
	}
	return learning.CodeSuggestion{
		Code:        strings.TrimSpace(m[2]),
		Language:    lang,
		Explanation: strings.TrimSpace(explanation),
	}
}

// LearnFromCorrection distills a correction into a one-sentence preference,
// stores it and records the task as rejected. If the model fails or answers
// with nothing, the user's feedback is stored verbatim.
func (a *Assistant) LearnFromCorrection(ctx context.Context, c learning.CorrectionFeedback, h learning.TaskHistory) (learning.LearnedPreference, error) {
	c.Feedback = strings.TrimSpace(c.Feedback)
	if c.Feedback == "" {
		return learning.LearnedPreference{}, ErrEmptyCorrection
	}
	if c.CorrectionType == "" {
		c.CorrectionType = learning.TypeOther
	}
	if c.TaskID == "" {
		c.TaskID = h.Task.ID
	}

	var corrected string
	if c.CorrectedCode != "" {
		corrected = "Corrected Code:\n" + c.CorrectedCode
	}
	prompt := fmt.Sprintf(`Analyze this coding correction and extract a reusable preference or pattern.

Task: %s

Original Code:
%s

User's Feedback: %s

%s

Extract a clear, reusable preference that should be applied to future tasks. Format as a single sentence describing what to do or avoid.`,
		h.Task.Description, c.OriginalCode, c.Feedback, corrected)

	description := c.Feedback
	resp, err := a.llm.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: preferenceSystemPrompt},
			{Role: llm.RoleUser, Content: prompt},
		},
		Temperature: extractTemperature,
	})
	switch {
	case err != nil:
		a.logger.Warn("preference extraction failed, storing feedback as preference", "error", err)
	case strings.TrimSpace(resp) != "":
		description = strings.TrimSpace(resp)
	}

	now := a.now().UnixMilli()
	pref := learning.LearnedPreference{
		ID:          newPreferenceID(now),
		Type:        c.CorrectionType,
		Description: description,
		Example:     c.CorrectedCode,
		Timestamp:   now,
		TaskContext: h.Task.Description,
	}
	if err := a.store.AddPreference(ctx, pref); err != nil {
		return learning.LearnedPreference{}, fmt.Errorf("saving preference: %w", err)
	}

	h.Correction = &c
	h.Accepted = false
	if err := a.store.AddHistory(ctx, h); err != nil {
		return learning.LearnedPreference{}, fmt.Errorf("recording history: %w", err)
	}
	return pref, nil
}

// newPreferenceID is unique even for corrections learned in the same
// millisecond.
func newPreferenceID(ms int64) string {
	return fmt.Sprintf("pref_%d_%s", ms, uuid.New().String()[:8])
}

// AcceptSuggestion records that the user took a suggestion unchanged.
func (a *Assistant) AcceptSuggestion(ctx context.Context, h learning.TaskHistory) error {
	h.Accepted = true
	h.Correction = nil
	if err := a.store.AddHistory(ctx, h); err != nil {
		return fmt.Errorf("recording history: %w", err)
	}
	return nil
}
