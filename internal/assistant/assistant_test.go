package assistant

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kalambet/specforge/internal/learning"
	"github.com/kalambet/specforge/internal/llm"
	"github.com/kalambet/specforge/internal/storage"
)

func newFileBackedStore(t *testing.T) *learning.Store {
	t.Helper()
	return learning.NewStore(nil, nil, learning.NewFileStore(filepath.Join(t.TempDir(), "prefs.json")))
}

func newTestAssistant(client llm.Client, store Store, budget int) *Assistant {
	a := New(client, store, budget)
	a.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	return a
}

type recordingClient struct {
	resp string
	err  error
	reqs []llm.Request
}

func (c *recordingClient) Complete(ctx context.Context, req llm.Request) (string, error) {
	c.reqs = append(c.reqs, req)
	return c.resp, c.err
}

func TestGenerateCode(t *testing.T) {
	store := newFileBackedStore(t)
	ctx := context.Background()
	for _, p := range []learning.LearnedPreference{
		{ID: "pref_1", Type: learning.TypeStyle, Description: "Use async/await", Timestamp: 1},
		{ID: "pref_2", Type: learning.TypeSecurity, Description: "Validate input", Example: "if (!x) throw", Timestamp: 2},
	} {
		if err := store.AddPreference(ctx, p); err != nil {
			t.Fatalf("AddPreference: %v", err)
		}
	}

	client := &recordingClient{resp: "Here you go:\n```typescript\nconst x = 1;\n```\nUses a const."}
	a := newTestAssistant(client, store, 0)

	got, err := a.GenerateCode(ctx, learning.CodingTask{Description: "declare x"})
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	want := learning.CodeSuggestion{
		TaskID:             "task_1700000000000",
		Code:               "const x = 1;",
		Language:           "typescript",
		Explanation:        "Here you go:\n\nUses a const.",
		AppliedPreferences: []string{"pref_1", "pref_2"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("suggestion mismatch (-want +got):\n%s", diff)
	}

	req := client.reqs[0]
	if req.Temperature != 0.7 || req.JSON {
		t.Errorf("temperature/json = %v/%v, want 0.7/false", req.Temperature, req.JSON)
	}
	sys := req.Messages[0].Content
	for _, s := range []string{"Learned preferences from previous interactions:", "STYLE:\n- Use async/await", "SECURITY:\n- Validate input\n  Example: if (!x) throw"} {
		if !strings.Contains(sys, s) {
			t.Errorf("system prompt missing %q:\n%s", s, sys)
		}
	}
	if req.Messages[1].Content != "declare x" {
		t.Errorf("user message = %q", req.Messages[1].Content)
	}
}

func TestGenerateCode_KeepsTaskID(t *testing.T) {
	a := newTestAssistant(&recordingClient{resp: "x"}, newFileBackedStore(t), 0)
	got, err := a.GenerateCode(context.Background(), learning.CodingTask{ID: "t-9", Description: "anything"})
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	if got.TaskID != "t-9" {
		t.Errorf("TaskID = %q, want t-9", got.TaskID)
	}
	if got.AppliedPreferences == nil {
		t.Error("AppliedPreferences should be empty, not nil")
	}
}

func TestGenerateCode_Errors(t *testing.T) {
	client := &recordingClient{err: errors.New("rate limited")}
	a := newTestAssistant(client, newFileBackedStore(t), 0)

	if _, err := a.GenerateCode(context.Background(), learning.CodingTask{Description: " "}); !errors.Is(err, ErrEmptyTask) {
		t.Errorf("empty task err = %v, want ErrEmptyTask", err)
	}
	if len(client.reqs) != 0 {
		t.Error("model called for empty task")
	}
	if _, err := a.GenerateCode(context.Background(), learning.CodingTask{Description: "x"}); !errors.Is(err, client.err) {
		t.Errorf("err = %v, want wrapped model error", err)
	}
}

func TestParseSuggestion(t *testing.T) {
	tests := []struct {
		name string
		resp string
		want learning.CodeSuggestion
	}{
		{
			name: "no fence",
			resp: "plain text",
			want: learning.CodeSuggestion{Code: "plain text", Language: "javascript", Explanation: "plain text"},
		},
		{
			name: "fence without language",
			resp: "```\nfoo()\n```",
			want: learning.CodeSuggestion{Code: "foo()", Language: "javascript", Explanation: ""},
		},
		{
			name: "only first block taken",
			resp: "a\n```go\none\n```\nb\n```go\ntwo\n```",
			want: learning.CodeSuggestion{Code: "one", Language: "go", Explanation: "a\n\nb\n```go\ntwo\n```"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, parseSuggestion(tt.resp)); diff != "" {
				t.Errorf("parseSuggestion mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFitPreferences_KeepsMostRecent(t *testing.T) {
	long := strings.Repeat("x", 400) // ~100 tokens rendered
	prefs := []learning.LearnedPreference{
		{ID: "old", Description: long, Timestamp: 1},
		{ID: "mid", Description: long, Timestamp: 2},
		{ID: "new", Description: long, Timestamp: 3},
	}
	got := fitPreferences(prefs, 210)
	var ids []string
	for _, p := range got {
		ids = append(ids, p.ID)
	}
	if diff := cmp.Diff([]string{"mid", "new"}, ids); diff != "" {
		t.Errorf("kept ids mismatch (-want +got):\n%s", diff)
	}

	if got := fitPreferences(prefs, 0); got != nil {
		t.Errorf("zero budget kept %v", got)
	}
}

func TestFitPreferences_SkipsOversized(t *testing.T) {
	prefs := []learning.LearnedPreference{
		{ID: "small-old", Description: "tabs", Timestamp: 1},
		{ID: "huge-new", Description: strings.Repeat("y", 4000), Timestamp: 2},
	}
	got := fitPreferences(prefs, 50)
	if len(got) != 1 || got[0].ID != "small-old" {
		t.Errorf("got %+v, want only small-old", got)
	}
}

func TestFitPreferences_CountsTypeHeaders(t *testing.T) {
	desc := strings.Repeat("z", 37) // "- " + desc + "\n" is exactly 10 tokens
	prefs := []learning.LearnedPreference{
		{ID: "other", Type: learning.TypeOther, Description: desc, Timestamp: 1},
		{ID: "pattern", Type: learning.TypePattern, Description: desc, Timestamp: 2},
		{ID: "security", Type: learning.TypeSecurity, Description: desc, Timestamp: 3},
		{ID: "style", Type: learning.TypeStyle, Description: desc, Timestamp: 4},
	}
	const budget = 40
	got := fitPreferences(prefs, budget)
	var ids []string
	for _, p := range got {
		ids = append(ids, p.ID)
	}
	if diff := cmp.Diff([]string{"pattern", "security", "style"}, ids); diff != "" {
		t.Errorf("kept ids mismatch (-want +got):\n%s", diff)
	}
	if n := EstimateTokens(learning.BuildContextFromPreferences(got)); n > budget+EstimateTokens(contextHeader) {
		t.Errorf("rendered context is %d tokens, over budget %d", n, budget+EstimateTokens(contextHeader))
	}
}

func TestLearnFromCorrection(t *testing.T) {
	store := newFileBackedStore(t)
	client := &recordingClient{resp: "  Always hash passwords with bcrypt.  "}
	a := newTestAssistant(client, store, 0)
	ctx := context.Background()

	hist := learning.TaskHistory{
		Task:       learning.CodingTask{ID: "task_1", Description: "login endpoint", Timestamp: 1},
		Suggestion: learning.CodeSuggestion{TaskID: "task_1", Code: "plain()", Language: "javascript", AppliedPreferences: []string{}},
	}
	corr := learning.CorrectionFeedback{
		OriginalCode:   "plain()",
		CorrectedCode:  "bcrypt.hash()",
		Feedback:       "hash the password",
		CorrectionType: learning.TypeSecurity,
	}

	pref, err := a.LearnFromCorrection(ctx, corr, hist)
	if err != nil {
		t.Fatalf("LearnFromCorrection: %v", err)
	}
	if !strings.HasPrefix(pref.ID, "pref_1700000000000_") {
		t.Errorf("ID = %q, want pref_1700000000000_ prefix", pref.ID)
	}
	want := learning.LearnedPreference{
		ID:          pref.ID,
		Type:        learning.TypeSecurity,
		Description: "Always hash passwords with bcrypt.",
		Example:     "bcrypt.hash()",
		Timestamp:   1_700_000_000_000,
		TaskContext: "login endpoint",
	}
	if diff := cmp.Diff(want, pref); diff != "" {
		t.Errorf("preference mismatch (-want +got):\n%s", diff)
	}

	req := client.reqs[0]
	if req.Temperature != 0.3 || req.Messages[0].Content != preferenceSystemPrompt {
		t.Errorf("request = %+v", req)
	}
	for _, s := range []string{"Task: login endpoint", "User's Feedback: hash the password", "Corrected Code:\nbcrypt.hash()"} {
		if !strings.Contains(req.Messages[1].Content, s) {
			t.Errorf("prompt missing %q", s)
		}
	}

	prefs, _ := store.Preferences(ctx)
	if len(prefs) != 1 || prefs[0].ID != pref.ID {
		t.Errorf("stored preferences = %+v", prefs)
	}
	history, _ := store.History(ctx)
	if len(history) != 1 {
		t.Fatalf("history len = %d, want 1", len(history))
	}
	if history[0].Accepted || history[0].Correction == nil || history[0].Correction.TaskID != "task_1" {
		t.Errorf("history entry = %+v", history[0])
	}
}

func TestLearnFromCorrection_SameMillisecond(t *testing.T) {
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store := learning.NewStore(db, nil, learning.NewFileStore(filepath.Join(t.TempDir(), "prefs.json")))
	a := newTestAssistant(&recordingClient{resp: "Use tabs."}, store, 0)
	ctx := context.Background()

	hist := learning.TaskHistory{
		Task:       learning.CodingTask{ID: "task_1", Description: "format", Timestamp: 1},
		Suggestion: learning.CodeSuggestion{TaskID: "task_1", Code: "x", Language: "go", AppliedPreferences: []string{}},
	}
	corr := learning.CorrectionFeedback{Feedback: "tabs please", CorrectionType: learning.TypeStyle}

	first, err := a.LearnFromCorrection(ctx, corr, hist)
	if err != nil {
		t.Fatalf("first correction: %v", err)
	}
	second, err := a.LearnFromCorrection(ctx, corr, hist)
	if err != nil {
		t.Fatalf("second correction: %v", err)
	}
	if first.ID == second.ID {
		t.Fatalf("both corrections got ID %q", first.ID)
	}

	inDB, err := db.Preferences(ctx)
	if err != nil {
		t.Fatalf("reading primary: %v", err)
	}
	if len(inDB) != 2 {
		t.Errorf("primary holds %d preferences, want 2", len(inDB))
	}
	visible, _ := store.Preferences(ctx)
	if len(visible) != 2 {
		t.Errorf("store returns %d preferences, want 2", len(visible))
	}
}

func TestLearnFromCorrection_FallsBackToFeedback(t *testing.T) {
	for name, client := range map[string]*recordingClient{
		"model error":    {err: errors.New("down")},
		"empty response": {resp: "   "},
	} {
		t.Run(name, func(t *testing.T) {
			a := newTestAssistant(client, newFileBackedStore(t), 0)
			pref, err := a.LearnFromCorrection(context.Background(),
				learning.CorrectionFeedback{Feedback: "use tabs"},
				learning.TaskHistory{Task: learning.CodingTask{Description: "fmt"}})
			if err != nil {
				t.Fatalf("LearnFromCorrection: %v", err)
			}
			if pref.Description != "use tabs" || pref.Type != learning.TypeOther {
				t.Errorf("preference = %+v", pref)
			}
			if client.reqs[0].Messages[1].Content == "" || strings.Contains(client.reqs[0].Messages[1].Content, "Corrected Code:") {
				t.Errorf("prompt should omit corrected code section: %q", client.reqs[0].Messages[1].Content)
			}
		})
	}
}

func TestLearnFromCorrection_EmptyFeedback(t *testing.T) {
	a := newTestAssistant(&recordingClient{}, newFileBackedStore(t), 0)
	_, err := a.LearnFromCorrection(context.Background(), learning.CorrectionFeedback{}, learning.TaskHistory{})
	if !errors.Is(err, ErrEmptyCorrection) {
		t.Errorf("err = %v, want ErrEmptyCorrection", err)
	}
}

func TestAcceptSuggestion(t *testing.T) {
	store := newFileBackedStore(t)
	a := newTestAssistant(&recordingClient{}, store, 0)
	ctx := context.Background()

	h := learning.TaskHistory{
		Task:       learning.CodingTask{ID: "task_2", Description: "sum"},
		Suggestion: learning.CodeSuggestion{TaskID: "task_2", Code: "a+b", Language: "go", AppliedPreferences: []string{}},
		Correction: &learning.CorrectionFeedback{Feedback: "stale"},
	}
	if err := a.AcceptSuggestion(ctx, h); err != nil {
		t.Fatalf("AcceptSuggestion: %v", err)
	}
	got, _ := store.History(ctx)
	if len(got) != 1 || !got[0].Accepted || got[0].Correction != nil {
		t.Errorf("history = %+v", got)
	}
}
