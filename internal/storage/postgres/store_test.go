package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"testing"

	"github.com/google/uuid"

	"github.com/kalambet/specforge/internal/learning"
	"github.com/kalambet/specforge/internal/patterns"
)

var (
	_ learning.Primary = (*Store)(nil)
	_ patterns.Store   = (*Store)(nil)
)

func TestVectorLiteral(t *testing.T) {
	tests := []struct {
		in   []float32
		want string
	}{
		{nil, "[]"},
		{[]float32{1}, "[1]"},
		{[]float32{0.5, -2, 0}, "[0.5,-2,0]"},
		{[]float32{0.1}, "[0.1]"},
	}
	for _, tt := range tests {
		if got := VectorLiteral(tt.in); got != tt.want {
			t.Errorf("VectorLiteral(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNullable(t *testing.T) {
	if nullable("") != nil {
		t.Error("nullable(\"\") should be nil")
	}
	if got := deref(nullable("x")); got != "x" {
		t.Errorf("deref(nullable(x)) = %q", got)
	}
}

// fakeRow hands fixed values to Scan in column order.
type fakeRow []any

func (r fakeRow) Scan(dest ...any) error {
	if len(dest) != len(r) {
		return fmt.Errorf("scan: got %d destinations, have %d values", len(dest), len(r))
	}
	for i, d := range dest {
		reflect.ValueOf(d).Elem().Set(reflect.ValueOf(r[i]))
	}
	return nil
}

func TestScanPattern_NullMetadataWithExtraColumn(t *testing.T) {
	row := fakeRow{"p1", "security", "Gate", "desc", []byte("null"), 0.5,
		3, (*string)(nil), (*string)(nil), int64(1), int64(2), 0.87}
	var similarity float64
	p, err := scanPattern(row, &similarity)
	if err != nil {
		t.Fatalf("scanPattern: %v", err)
	}
	if p.Metadata == nil || len(p.Metadata) != 0 {
		t.Errorf("Metadata = %#v, want empty map", p.Metadata)
	}
	if p.ID != "p1" || p.PatternType != patterns.TypeSecurity || p.ObservationCount != 3 || p.LastSeen != 2 {
		t.Errorf("pattern = %+v", p)
	}
	if similarity != 0.87 {
		t.Errorf("similarity = %v, want 0.87", similarity)
	}
}

// openIntegrationStore connects to SPECFORGE_TEST_DATABASE_URL, which must
// point at a disposable database with pgvector available.
func openIntegrationStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("SPECFORGE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("SPECFORGE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, url)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.InitSchema(ctx); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
	return s
}

func unitVector(i int) []float32 {
	v := make([]float32, EmbeddingDimensions)
	v[i] = 1
	return v
}

func TestIntegrationPatterns(t *testing.T) {
	s := openIntegrationStore(t)
	ctx := context.Background()

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	suffix := uuid.New().String()[:8]
	name := "Écran Gate " + suffix
	p := patterns.Pattern{
		ID:               "pattern_it_" + suffix,
		PatternType:      patterns.TypeSecurity,
		Name:             name,
		Description:      "integration",
		Metadata:         map[string]any{"controlLayer": "input-hardening"},
		Confidence:       patterns.InitialConfidence,
		ObservationCount: 1,
		FirstSeen:        1,
		LastSeen:         1,
	}
	if err := s.InsertPattern(ctx, p, unitVector(0)); err != nil {
		t.Fatalf("InsertPattern: %v", err)
	}
	t.Cleanup(func() {
		s.pool.Exec(context.Background(), `DELETE FROM learned_patterns WHERE id = $1`, p.ID)
	})

	got, ok, err := s.FindPatternByName(ctx, patterns.TypeSecurity, "écran gate "+suffix)
	if err != nil || !ok || got.ID != p.ID {
		t.Fatalf("FindPatternByName = %+v, %v, %v", got, ok, err)
	}

	res, err := s.SearchPatterns(ctx, unitVector(0), patterns.SearchOptions{PatternType: patterns.TypeSecurity, Limit: 5, MinSimilarity: 0.99})
	if err != nil {
		t.Fatalf("SearchPatterns: %v", err)
	}
	found := false
	for _, r := range res {
		if r.ID == p.ID {
			found = true
			if r.Similarity < 0.99 {
				t.Errorf("similarity = %v, want ~1", r.Similarity)
			}
		}
	}
	if !found {
		t.Errorf("inserted pattern not found by search: %+v", res)
	}

	if _, err := s.pool.Exec(ctx, `UPDATE learned_patterns SET metadata = 'null'::jsonb WHERE id = $1`, p.ID); err != nil {
		t.Fatalf("clearing metadata: %v", err)
	}
	res, err = s.SearchPatterns(ctx, unitVector(0), patterns.SearchOptions{PatternType: patterns.TypeSecurity, Limit: 5, MinSimilarity: 0.99})
	if err != nil {
		t.Fatalf("SearchPatterns after clearing metadata: %v", err)
	}
	for _, r := range res {
		if r.ID == p.ID && r.Metadata == nil {
			t.Errorf("search result metadata is nil, want empty map")
		}
	}

	if err := s.ReinforcePattern(ctx, p.ID, 2); err != nil {
		t.Fatalf("ReinforcePattern: %v", err)
	}
	got, err = s.GetPattern(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPattern: %v", err)
	}
	if got.ObservationCount != 2 || got.LastSeen != 2 {
		t.Errorf("after reinforce = %+v", got)
	}

	if _, err := s.GetPattern(ctx, "missing-"+suffix); !errors.Is(err, patterns.ErrNotFound) {
		t.Errorf("GetPattern(missing) = %v, want ErrNotFound", err)
	}
}

func TestIntegrationPreferences(t *testing.T) {
	s := openIntegrationStore(t)
	ctx := context.Background()

	id := "pref_it_" + uuid.New().String()[:8]
	if err := s.AddPreference(ctx, learning.LearnedPreference{ID: id, Type: learning.TypeStyle, Description: "tabs", Timestamp: 1}); err != nil {
		t.Fatalf("AddPreference: %v", err)
	}
	t.Cleanup(func() {
		s.pool.Exec(context.Background(), `DELETE FROM preferences WHERE id = $1`, id)
	})

	prefs, err := s.Preferences(ctx)
	if err != nil {
		t.Fatalf("Preferences: %v", err)
	}
	for _, p := range prefs {
		if p.ID == id {
			return
		}
	}
	t.Errorf("preference %s not returned", id)
}
