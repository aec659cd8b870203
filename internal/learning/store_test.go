package learning

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// --- Fake primary ---

type fakePrimary struct {
	mu      sync.Mutex
	down    bool
	failOps bool
	pings   int
	prefs   []LearnedPreference
	history []TaskHistory
}

var errDown = errors.New("connection refused")

func (f *fakePrimary) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	if f.down {
		return errDown
	}
	return nil
}

func (f *fakePrimary) Preferences(ctx context.Context) ([]LearnedPreference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down || f.failOps {
		return nil, errDown
	}
	return append([]LearnedPreference(nil), f.prefs...), nil
}

func (f *fakePrimary) AddPreference(ctx context.Context, p LearnedPreference) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down || f.failOps {
		return errDown
	}
	f.prefs = append(f.prefs, p)
	return nil
}

func (f *fakePrimary) History(ctx context.Context) ([]TaskHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down || f.failOps {
		return nil, errDown
	}
	return append([]TaskHistory(nil), f.history...), nil
}

func (f *fakePrimary) AddHistory(ctx context.Context, h TaskHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down || f.failOps {
		return errDown
	}
	f.history = append(f.history, h)
	return nil
}

func (f *fakePrimary) setDown(v bool) {
	f.mu.Lock()
	f.down = v
	f.mu.Unlock()
}

// --- Mock clock ---

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- Helpers ---

func newTestStore(t *testing.T, primary *fakePrimary) (*Store, *mockClock, string) {
	t.Helper()
	clock := &mockClock{now: time.Unix(1_700_000_000, 0)}
	path := filepath.Join(t.TempDir(), "learned-preferences.json")
	var p Primary
	var hc *HealthChecker
	if primary != nil {
		p = primary
		hc = NewHealthCheckerWithClock(primary.Ping, clock, time.Minute)
	}
	return NewStore(p, hc, NewFileStore(path)), clock, path
}

func samplePref(id string) LearnedPreference {
	return LearnedPreference{
		ID:          id,
		Type:        TypeTechStack,
		Description: "Use TypeScript instead of JavaScript",
		Example:     "const x: number = 1",
		Timestamp:   1_700_000_000_123,
		TaskContext: "build a counter",
	}
}

// --- Tests ---

func TestStore_PrimaryHealthy(t *testing.T) {
	primary := &fakePrimary{}
	store, _, path := newTestStore(t, primary)
	ctx := context.Background()

	if err := store.AddPreference(ctx, samplePref("pref_1")); err != nil {
		t.Fatalf("AddPreference: %v", err)
	}
	if len(primary.prefs) != 1 {
		t.Errorf("primary has %d prefs, want 1", len(primary.prefs))
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("fallback file written while primary healthy")
	}
}

func TestStore_FallsBackWhenPrimaryDown(t *testing.T) {
	primary := &fakePrimary{down: true}
	store, _, _ := newTestStore(t, primary)
	ctx := context.Background()

	want := samplePref("pref_1")
	if err := store.AddPreference(ctx, want); err != nil {
		t.Fatalf("AddPreference: %v", err)
	}
	got, err := store.Preferences(ctx)
	if err != nil {
		t.Fatalf("Preferences: %v", err)
	}
	if diff := cmp.Diff([]LearnedPreference{want}, got); diff != "" {
		t.Errorf("preferences mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_OperationFailureReissuedAgainstFallback(t *testing.T) {
	primary := &fakePrimary{failOps: true}
	store, _, _ := newTestStore(t, primary)
	ctx := context.Background()

	if err := store.AddPreference(ctx, samplePref("pref_1")); err != nil {
		t.Fatalf("AddPreference: %v", err)
	}
	if store.health.Status().Healthy {
		t.Error("health flag still healthy after primary write failure")
	}

	// Primary recovers but the cached flag keeps us on the file until the
	// interval elapses.
	primary.mu.Lock()
	primary.failOps = false
	primary.mu.Unlock()

	got, err := store.Preferences(ctx)
	if err != nil {
		t.Fatalf("Preferences: %v", err)
	}
	if len(got) != 1 || got[0].ID != "pref_1" {
		t.Errorf("Preferences = %+v, want the fallback record", got)
	}
}

func TestStore_HealthCachedForInterval(t *testing.T) {
	primary := &fakePrimary{}
	store, clock, _ := newTestStore(t, primary)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := store.Preferences(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if primary.pings != 1 {
		t.Errorf("pings = %d, want 1 within interval", primary.pings)
	}

	clock.Advance(61 * time.Second)
	if _, err := store.Preferences(ctx); err != nil {
		t.Fatal(err)
	}
	if primary.pings != 2 {
		t.Errorf("pings = %d, want 2 after interval", primary.pings)
	}
}

func TestStore_RecoversAfterInterval(t *testing.T) {
	primary := &fakePrimary{down: true}
	store, clock, _ := newTestStore(t, primary)
	ctx := context.Background()

	if err := store.AddPreference(ctx, samplePref("file_pref")); err != nil {
		t.Fatal(err)
	}
	primary.setDown(false)
	clock.Advance(2 * time.Minute)

	if err := store.AddPreference(ctx, samplePref("db_pref")); err != nil {
		t.Fatal(err)
	}
	if len(primary.prefs) != 1 || primary.prefs[0].ID != "db_pref" {
		t.Errorf("primary prefs = %+v, want db_pref only", primary.prefs)
	}
}

func TestStore_NoPrimaryUsesFile(t *testing.T) {
	store, _, path := newTestStore(t, nil)
	ctx := context.Background()

	h := TaskHistory{
		Task:       CodingTask{ID: "task_1", Description: "write a button", Timestamp: 1},
		Suggestion: CodeSuggestion{TaskID: "task_1", Code: "<button/>", Language: "jsx", AppliedPreferences: []string{}},
		Correction: &CorrectionFeedback{TaskID: "task_1", OriginalCode: "<button/>", Feedback: "use tailwind", CorrectionType: TypeStyle},
	}
	if err := store.AddHistory(ctx, h); err != nil {
		t.Fatalf("AddHistory: %v", err)
	}
	got, err := store.History(ctx)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if diff := cmp.Diff([]TaskHistory{h}, got); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("fallback file not written: %v", err)
	}

	st := store.Status(ctx)
	if st.Configured || st.Connected {
		t.Errorf("Status = %+v, want unconfigured", st)
	}
}

func TestStore_Status(t *testing.T) {
	primary := &fakePrimary{}
	store, _, _ := newTestStore(t, primary)
	ctx := context.Background()

	if st := store.Status(ctx); !st.Configured || !st.Connected {
		t.Errorf("Status = %+v, want connected", st)
	}
	primary.setDown(true)
	st := store.Status(ctx)
	if !st.Configured || st.Connected {
		t.Errorf("Status = %+v, want configured but disconnected", st)
	}
	if !strings.Contains(st.Message, "connection refused") {
		t.Errorf("Message = %q, want probe error", st.Message)
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	fs := NewFileStore(filepath.Join(t.TempDir(), "nested", "prefs.json"))
	want := []LearnedPreference{samplePref("a"), {ID: "b", Type: TypeOther, Description: "no example", Timestamp: 2}}
	for _, p := range want {
		if err := fs.AddPreference(p); err != nil {
			t.Fatalf("AddPreference: %v", err)
		}
	}
	got, err := fs.Preferences()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestFileStore_CorruptFileReadsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	fs := NewFileStore(path)
	got, err := fs.Preferences()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("got %d prefs from corrupt file, want 0", len(got))
	}
	// A write replaces the corrupt document.
	if err := fs.AddPreference(samplePref("x")); err != nil {
		t.Fatal(err)
	}
	got, _ = fs.Preferences()
	if len(got) != 1 {
		t.Errorf("got %d prefs after rewrite, want 1", len(got))
	}
}

func TestFileStore_WriteFailurePropagates(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	// The parent "directory" is a regular file, so MkdirAll fails.
	fs := NewFileStore(filepath.Join(blocker, "prefs.json"))
	if err := fs.AddPreference(samplePref("x")); err == nil {
		t.Error("expected write error, got nil")
	}
}
