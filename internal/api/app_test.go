package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kalambet/specforge/internal/assistant"
	"github.com/kalambet/specforge/internal/learning"
	"github.com/kalambet/specforge/internal/llm"
	"github.com/kalambet/specforge/internal/patterns"
	"github.com/kalambet/specforge/internal/planner"
	"github.com/kalambet/specforge/internal/progress"
	"github.com/kalambet/specforge/internal/storage"
)

const testToken = "test-token-12345"

// keywordEmbedder maps text onto three axes so similarity is predictable.
type keywordEmbedder struct{}

func (keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "rate"):
		return []float32{1, 0, 0}, nil
	case strings.Contains(t, "hash"):
		return []float32{0, 1, 0}, nil
	}
	return []float32{0, 0, 1}, nil
}

func (e keywordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

const extractedJSON = `{"patterns":[{"name":"Login Rate Limiting","changeNarrative":"Added a rate limiter to login.","threatMitigated":"brute force","controlLayer":"network-protection","dependencies":["express-rate-limit"],"evidenceFromDiff":"+rateLimit"}]}`

// scriptedLLM answers each kind of request the server makes.
func scriptedLLM() llm.Client {
	return llm.Func(func(_ context.Context, req llm.Request) (string, error) {
		switch {
		case req.JSON:
			return extractedJSON, nil
		case strings.Contains(req.Messages[0].Content, "pattern extraction assistant"):
			return "Always validate request bodies.", nil
		default:
			return "Sure.\n```go\nfunc main() {}\n```", nil
		}
	})
}

type testEnv struct {
	handler  http.Handler
	store    *storage.Store
	learning *learning.Store
	patterns *patterns.Service
	sessions *progress.Sessions
}

func setupAppHandler(t *testing.T) testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	client := scriptedLLM()
	ls := learning.NewStore(store, nil, learning.NewFileStore(filepath.Join(t.TempDir(), "fallback.json")))
	svc := patterns.NewService(store, keywordEmbedder{}, true)
	sessions := progress.NewSessions()

	handler := NewAppHandler(AppDeps{
		Token:         testToken,
		Planner:       planner.New(client, nil, true),
		Sessions:      sessions,
		Assistant:     assistant.New(client, ls, 0),
		Learning:      ls,
		Patterns:      svc,
		Extractor:     patterns.NewExtractor(client, svc),
		Backfiller:    patterns.NewBackfiller(store, keywordEmbedder{}, 0, 0),
		Schema:        store,
		MinSimilarity: 0.5,
	})
	return testEnv{handler: handler, store: store, learning: ls, patterns: svc, sessions: sessions}
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func do(t *testing.T, h http.Handler, method, url, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(method, url, body, testToken))
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %s: %v", rr.Body.String(), err)
	}
	return v
}

func wantStatus(t *testing.T, rr *httptest.ResponseRecorder, code int) {
	t.Helper()
	if rr.Code != code {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, code, rr.Body.String())
	}
}

func TestHealth_NoAuth(t *testing.T) {
	env := setupAppHandler(t)
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	wantStatus(t, rr, http.StatusOK)
	if !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rr.Body.String())
	}
}

func TestAuth(t *testing.T) {
	env := setupAppHandler(t)
	for _, token := range []string{"", "wrong"} {
		rr := httptest.NewRecorder()
		env.handler.ServeHTTP(rr, authReq(http.MethodGet, "/preferences", "", token))
		wantStatus(t, rr, http.StatusUnauthorized)

		body := decode[map[string]map[string]string](t, rr)
		if body["error"]["type"] != "authentication_error" {
			t.Errorf("error body = %v", body)
		}
	}
}

func TestPlan_OpensSession(t *testing.T) {
	env := setupAppHandler(t)

	rr := do(t, env.handler, http.MethodPost, "/plan", `{"userInput":"learn React with a to-do app"}`)
	wantStatus(t, rr, http.StatusOK)
	resp := decode[PlanResponse](t, rr)

	if resp.SessionID == "" {
		t.Fatal("no session ID")
	}
	if len(resp.Plan.QuestionPlan) != 5 {
		t.Errorf("plan items = %d, want 5", len(resp.Plan.QuestionPlan))
	}
	if resp.State.Analytics.QuestionsSkipped != 4 {
		t.Errorf("skipped = %d, want 4", resp.State.Analytics.QuestionsSkipped)
	}
	if env.sessions.Len() != 1 {
		t.Errorf("sessions = %d, want 1", env.sessions.Len())
	}

	rr = do(t, env.handler, http.MethodPost, "/plan", `{"userInput":"  "}`)
	wantStatus(t, rr, http.StatusBadRequest)
}

func TestSessions_Lifecycle(t *testing.T) {
	env := setupAppHandler(t)

	body := `{"items":[
		{"question_id":"q1","template_id":"q1","status":"ASK"},
		{"question_id":"q2","template_id":"q2_simple","status":"SKIP"},
		{"question_id":"q3","template_id":"q3_webapp","status":"CONFIRM"}
	]}`
	rr := do(t, env.handler, http.MethodPost, "/sessions", body)
	wantStatus(t, rr, http.StatusCreated)
	id := decode[SessionResponse](t, rr).SessionID

	rr = do(t, env.handler, http.MethodPut, "/sessions/"+id+"/current", `{"questionId":"q1"}`)
	wantStatus(t, rr, http.StatusOK)
	st := decode[SessionResponse](t, rr).State
	if st.CurrentQuestionID == nil || *st.CurrentQuestionID != "q1" || st.Questions["q1"].Status != progress.QuestionActive {
		t.Errorf("after set current: %+v", st.Questions["q1"])
	}

	rr = do(t, env.handler, http.MethodPatch, "/sessions/"+id+"/questions/q1", `{"status":"completed","userAnswer":"learning"}`)
	wantStatus(t, rr, http.StatusOK)
	st = decode[SessionResponse](t, rr).State
	if st.Questions["q1"].Status != progress.QuestionCompleted || string(st.Questions["q1"].Answer) != `"learning"` {
		t.Errorf("q1 = %+v", st.Questions["q1"])
	}
	if st.Phases[progress.PhaseProblemDefinition].Status != progress.PhaseComplete {
		t.Errorf("problemDefinition = %+v", st.Phases[progress.PhaseProblemDefinition])
	}

	rr = do(t, env.handler, http.MethodPost, "/sessions/"+id+"/analytics", `{"addTimeSpent":1500}`)
	wantStatus(t, rr, http.StatusOK)
	if got := decode[SessionResponse](t, rr).State.Analytics.TotalTimeSpent; got != 1500 {
		t.Errorf("TotalTimeSpent = %d, want 1500", got)
	}

	rr = do(t, env.handler, http.MethodGet, "/sessions/"+id+"/phases/problemDefinition", "")
	wantStatus(t, rr, http.StatusOK)
	pp := decode[PhaseProgressResponse](t, rr)
	if pp.Progress != 100 || pp.Title != "Problem Definition" {
		t.Errorf("phase progress = %+v", pp)
	}

	rr = do(t, env.handler, http.MethodGet, "/sessions/"+id+"/phases/nope", "")
	wantStatus(t, rr, http.StatusBadRequest)

	rr = do(t, env.handler, http.MethodGet, "/sessions/"+id, "")
	wantStatus(t, rr, http.StatusOK)

	rr = do(t, env.handler, http.MethodDelete, "/sessions/"+id, "")
	wantStatus(t, rr, http.StatusOK)

	rr = do(t, env.handler, http.MethodGet, "/sessions/"+id, "")
	wantStatus(t, rr, http.StatusNotFound)
	rr = do(t, env.handler, http.MethodPatch, "/sessions/"+id+"/questions/q1", `{}`)
	wantStatus(t, rr, http.StatusNotFound)
}

func TestInvalidBody(t *testing.T) {
	env := setupAppHandler(t)
	rr := do(t, env.handler, http.MethodPost, "/sessions", `{not json`)
	wantStatus(t, rr, http.StatusBadRequest)
	body := decode[map[string]map[string]string](t, rr)
	if body["error"]["type"] != "invalid_request_error" {
		t.Errorf("error body = %v", body)
	}
}

func TestDBEndpoints(t *testing.T) {
	env := setupAppHandler(t)

	rr := do(t, env.handler, http.MethodGet, "/db/status", "")
	wantStatus(t, rr, http.StatusOK)
	st := decode[learning.Status](t, rr)
	if !st.Configured || !st.Connected {
		t.Errorf("status = %+v", st)
	}

	rr = do(t, env.handler, http.MethodPost, "/db/init", "")
	wantStatus(t, rr, http.StatusOK)
}

func TestDBInit_NoPrimary(t *testing.T) {
	ls := learning.NewStore(nil, nil, learning.NewFileStore(filepath.Join(t.TempDir(), "f.json")))
	h := NewAppHandler(AppDeps{Token: testToken, Learning: ls})

	rr := do(t, h, http.MethodPost, "/db/init", "")
	wantStatus(t, rr, http.StatusServiceUnavailable)

	rr = do(t, h, http.MethodGet, "/db/status", "")
	wantStatus(t, rr, http.StatusOK)
	if st := decode[learning.Status](t, rr); st.Configured {
		t.Errorf("status = %+v, want unconfigured", st)
	}
}
