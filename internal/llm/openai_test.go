package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func chatJSON(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": content}}},
	})
	return string(b)
}

func TestOpenAI_Complete(t *testing.T) {
	var got chatRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(chatJSON(`{"patterns":[]}`)))
	}))
	defer srv.Close()

	c := NewOpenAI("sk-test", srv.URL+"/", "gpt-4o-mini")
	out, err := c.Complete(context.Background(), Request{
		Messages:    []Message{{Role: RoleSystem, Content: "sys"}, {Role: RoleUser, Content: "hi"}},
		Temperature: 0.3,
		JSON:        true,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != `{"patterns":[]}` {
		t.Errorf("out = %q", out)
	}
	if auth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", auth)
	}
	if got.Model != "gpt-4o-mini" || got.Temperature != 0.3 || len(got.Messages) != 2 {
		t.Errorf("request = %+v", got)
	}
	if got.ResponseFormat == nil || got.ResponseFormat.Type != "json_object" {
		t.Errorf("response_format = %+v, want json_object", got.ResponseFormat)
	}
}

func TestOpenAI_NoResponseFormatForText(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&raw)
		w.Write([]byte(chatJSON("hello")))
	}))
	defer srv.Close()

	if _, err := NewOpenAI("k", srv.URL, "m").Complete(context.Background(), Request{Temperature: 0.7}); err != nil {
		t.Fatal(err)
	}
	if _, ok := raw["response_format"]; ok {
		t.Error("response_format sent for a text request")
	}
}

func TestOpenAI_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(chatJSON("ok")))
	}))
	defer srv.Close()

	out, err := NewOpenAI("k", srv.URL, "m").Complete(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "ok" || calls.Load() != 2 {
		t.Errorf("out = %q after %d calls, want ok after 2", out, calls.Load())
	}
}

func TestOpenAI_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewOpenAI("k", srv.URL, "m").Complete(context.Background(), Request{})
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("err = %v, want 401", err)
	}
}

func TestOpenAI_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	if _, err := NewOpenAI("k", srv.URL, "m").Complete(context.Background(), Request{}); err == nil {
		t.Error("expected error for empty choices")
	}
}

func TestMock(t *testing.T) {
	m := Mock()
	out, err := m.Complete(context.Background(), Request{JSON: true})
	if err != nil || out != "{}" {
		t.Errorf("JSON mock = %q, %v", out, err)
	}
	out, _ = m.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "write a loop"}}})
	if !strings.Contains(out, "write a loop") {
		t.Errorf("text mock = %q", out)
	}
}
