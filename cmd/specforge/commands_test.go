package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func resetFlags(c *cobra.Command) {
	c.Flags().VisitAll(func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	})
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// runCLI executes the root command against ts and returns what went to
// stdout and stderr.
func runCLI(t *testing.T, ts *testServer, args ...string) (string, string, error) {
	t.Helper()

	var out, errOut bytes.Buffer
	origClient, origOut, origErr, origNoColor := newAPIClient, stdout, stderr, noColor
	t.Cleanup(func() {
		newAPIClient, stdout, stderr, noColor = origClient, origOut, origErr, origNoColor
		rootCmd.SetArgs(nil)
		resetFlags(rootCmd)
	})

	if ts != nil {
		newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	}
	stdout, stderr = &out, &errOut
	resetFlags(rootCmd)
	rootCmd.SetArgs(append([]string{"--no-color"}, args...))
	err := rootCmd.Execute()
	return out.String(), errOut.String(), err
}

func TestClient_AuthAndBody(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /plan": `{"sessionId":"s-1"}`,
	})

	resp, err := ts.client().post(ctx, "/plan", map[string]string{"userInput": "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var result planResponse
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result.SessionID != "s-1" {
		t.Errorf("sessionId = %q, want s-1", result.SessionID)
	}

	r := ts.requests[0]
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}
	if r.Body != `{"userInput":"hello"}` {
		t.Errorf("body = %s", r.Body)
	}
}

func TestDecodeJSON_APIError(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := ts.client().get(ctx, "/patterns/missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var v any
	err = decodeJSON(resp, &v)
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if err.Error() != "server returned 404: not found" {
		t.Errorf("error = %q", err)
	}
}

func TestClient_Unreachable(t *testing.T) {
	c := &apiClient{baseURL: "http://127.0.0.1:1", token: "x", httpClient: http.DefaultClient}
	_, err := c.get(ctx, "/health")
	if err == nil || !strings.Contains(err.Error(), "is specforge running?") {
		t.Errorf("error = %v", err)
	}
}

const planJSON = `{
	"sessionId": "sess-42",
	"plan": {
		"analysis": {"user_input_summary": "React to-do app", "confidence_level": "high"},
		"questionPlan": [
			{"question_id":"q1","template_id":"q1","status":"SKIP","template":{"id":"q1","text":"What is your goal?"},"progressMetadata":{"sequenceNumber":1}},
			{"question_id":"q3","template_id":"q3_webapp","status":"CONFIRM","pre_selected_options":["cms"],"adapted_text":"Which features does your to-do app need?","template":{"id":"q3_webapp","text":"Which features?"},"progressMetadata":{"sequenceNumber":3}}
		],
		"totalQuestions": 1,
		"estimatedTime": "30 seconds"
	},
	"state": {"overallCompletion": 80}
}`

func TestPlanCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{"POST /plan": planJSON})

	out, errOut, err := runCLI(t, ts, "plan", "learn", "React")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var body map[string]string
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["userInput"] != "learn React" {
		t.Errorf("userInput = %q, want %q", body["userInput"], "learn React")
	}

	for _, want := range []string{"React to-do app", "[SKIP]", "What is your goal?", "Which features does your to-do app need?", "preselected: cms"} {
		if !strings.Contains(out, want) {
			t.Errorf("stdout missing %q:\n%s", want, out)
		}
	}
	for _, want := range []string{"Session sess-42", "30 seconds", "80%"} {
		if !strings.Contains(errOut, want) {
			t.Errorf("stderr missing %q:\n%s", want, errOut)
		}
	}
}

func TestPlanCommand_JSON(t *testing.T) {
	ts := newTestServer(t, map[string]string{"POST /plan": planJSON})

	out, _, err := runCLI(t, ts, "plan", "--json", "an idea")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got planResponse
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("stdout is not JSON: %v\n%s", err, out)
	}
	if got.SessionID != "sess-42" || len(got.Plan.QuestionPlan) != 2 {
		t.Errorf("plan = %+v", got)
	}
}

func TestPlanCommand_MissingArgs(t *testing.T) {
	_, _, err := runCLI(t, nil, "plan")
	if err == nil {
		t.Fatal("expected error for missing idea")
	}
}

func TestPlanCommand_ServerError(t *testing.T) {
	ts := newTestServer(t, nil)
	_, _, err := runCLI(t, ts, "plan", "idea")
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("error = %v", err)
	}
}

func TestPrefsList(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /preferences": `[{"id":"pref_1","type":"security","description":"Validate request bodies","timestamp":1}]`,
	})

	out, _, err := runCLI(t, ts, "prefs", "list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "pref_1") || !strings.Contains(out, "Validate request bodies") {
		t.Errorf("stdout = %q", out)
	}
}

func TestPrefsList_Empty(t *testing.T) {
	ts := newTestServer(t, map[string]string{"GET /preferences": `[]`})

	out, errOut, err := runCLI(t, ts, "prefs", "list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "" || !strings.Contains(errOut, "No learned preferences yet") {
		t.Errorf("stdout = %q, stderr = %q", out, errOut)
	}
}

func TestPrefsContext(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /preferences/context": `{"count":1,"context":"SECURITY:\n- Validate request bodies\n"}`,
	})

	out, _, err := runCLI(t, ts, "prefs", "context")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "SECURITY:\n- Validate request bodies\n" {
		t.Errorf("stdout = %q", out)
	}
}

func TestHistoryList_Limit(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /history": `[
			{"task":{"id":"task_1","description":"first"},"suggestion":{},"accepted":true},
			{"task":{"id":"task_2","description":"second"},"suggestion":{},"correction":{"feedback":"x","correctionType":"style"},"accepted":false}
		]`,
	})

	out, _, err := runCLI(t, ts, "history", "list", "--limit", "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(out, "task_1") {
		t.Errorf("limit not applied: %q", out)
	}
	if !strings.Contains(out, "task_2") || !strings.Contains(out, "corrected (style)") {
		t.Errorf("stdout = %q", out)
	}
}

func TestPatternsList_Query(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /patterns": `{"success":true,"count":1,"patterns":[{"id":"pattern_1","patternType":"security","name":"Login Rate Limiting","confidence":0.43,"observationCount":2}]}`,
	})

	out, _, err := runCLI(t, ts, "patterns", "list", "--type", "security", "--limit", "5", "--min-confidence", "0.4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := ts.requests[0].Path, "/patterns?limit=5&minConfidence=0.4&type=security"; got != want {
		t.Errorf("path = %q, want %q", got, want)
	}
	if !strings.Contains(out, "Login Rate Limiting (seen 2)") || !strings.Contains(out, "conf 0.43") {
		t.Errorf("stdout = %q", out)
	}
}

func TestPatternsSearch(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /patterns": `{"success":true,"count":1,"patterns":[{"id":"pattern_1","patternType":"security","name":"Login Rate Limiting","similarity":0.91}]}`,
	})

	out, _, err := runCLI(t, ts, "patterns", "search", "rate", "limit")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := ts.requests[0].Path, "/patterns?search=rate+limit"; got != want {
		t.Errorf("path = %q, want %q", got, want)
	}
	if !strings.Contains(out, "sim 0.91") {
		t.Errorf("stdout = %q", out)
	}
}

func TestPatternsShow(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /patterns/pattern_1": `{"id":"pattern_1","name":"CSRF Tokens"}`,
	})

	out, _, err := runCLI(t, ts, "patterns", "show", "pattern_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, `"name": "CSRF Tokens"`) {
		t.Errorf("stdout = %q", out)
	}
}

func TestPatternsCleanup_RequiresConfirm(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"DELETE /patterns": `{"success":true,"deletedCount":3,"remainingCount":7}`,
	})

	if _, _, err := runCLI(t, ts, "patterns", "cleanup"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ts.requests) != 0 {
		t.Fatalf("cleanup without --confirm sent %d requests", len(ts.requests))
	}

	_, errOut, err := runCLI(t, ts, "patterns", "cleanup", "--confirm")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ts.requests) != 1 || ts.requests[0].Method != http.MethodDelete {
		t.Fatalf("requests = %+v", ts.requests)
	}
	if !strings.Contains(errOut, "Deleted 3 patterns, 7 remaining") {
		t.Errorf("stderr = %q", errOut)
	}
}

func TestPatternsSample_Save(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /patterns/sample": `{"diff":{"addedLines":4,"removedLines":1},"extractedPatterns":[{"name":"Helmet"}],"savedPatterns":[{"id":"pattern_1"}]}`,
	})

	out, errOut, err := runCLI(t, ts, "patterns", "sample", "--save")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.requests[0].Path != "/patterns/sample?save=true" {
		t.Errorf("path = %q", ts.requests[0].Path)
	}
	if !strings.Contains(out, `"name": "Helmet"`) {
		t.Errorf("stdout = %q", out)
	}
	if !strings.Contains(errOut, "+4 -1 lines") || !strings.Contains(errOut, "Saved 1 patterns") {
		t.Errorf("stderr = %q", errOut)
	}
}

func TestDBCommands(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /db/status": `{"configured":true,"connected":false,"message":"Database connection failed, using JSON fallback"}`,
		"POST /db/init":  `{"success":true,"message":"Database initialized successfully"}`,
	})

	_, errOut, err := runCLI(t, ts, "db", "status")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(errOut, "✗ Database connection failed") {
		t.Errorf("stderr = %q", errOut)
	}

	_, errOut, err = runCLI(t, ts, "db", "init")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(errOut, "✓ Database initialized successfully") {
		t.Errorf("stderr = %q", errOut)
	}
}

func TestCountLabel(t *testing.T) {
	tests := []struct {
		count, limit int
		want         string
	}{
		{0, 100, "0"},
		{99, 100, "99"},
		{100, 100, "100+"},
	}
	for _, tt := range tests {
		if got := countLabel(tt.count, tt.limit); got != tt.want {
			t.Errorf("countLabel(%d, %d) = %q, want %q", tt.count, tt.limit, got, tt.want)
		}
	}
}

func TestColorize_NoColor(t *testing.T) {
	orig := noColor
	defer func() { noColor = orig }()

	noColor = true
	if got := colorize(colorRed, "x"); got != "x" {
		t.Errorf("colorize with noColor = %q", got)
	}
	noColor = false
	if got := colorize(colorRed, "x"); got != colorRed+"x"+colorReset {
		t.Errorf("colorize = %q", got)
	}
}
