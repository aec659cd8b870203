// Package postgres is the PostgreSQL primary store. Pattern similarity
// search uses the pgvector extension.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kalambet/specforge/internal/learning"
	"github.com/kalambet/specforge/internal/patterns"
)

// EmbeddingDimensions is the width of the embedding column. Both supported
// embedders (text-embedding-004 and nomic-embed-text) produce 768 values.
const EmbeddingDimensions = 768

// Store implements learning.Primary and patterns.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open creates a pool for databaseURL. Connections are established lazily,
// so an unreachable server is reported by Ping rather than here.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	return NewStore(pool), nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping runs SELECT 1.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.pool.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("postgres probe: %w", err)
	}
	return nil
}

var schema = []string{
	`CREATE EXTENSION IF NOT EXISTS vector`,
	`CREATE TABLE IF NOT EXISTS preferences (
		id           TEXT PRIMARY KEY,
		type         TEXT NOT NULL,
		description  TEXT NOT NULL,
		example      TEXT,
		task_context TEXT,
		timestamp    BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS task_history (
		id                             TEXT PRIMARY KEY,
		seq                            BIGSERIAL,
		task_id                        TEXT NOT NULL,
		task_description               TEXT NOT NULL,
		task_timestamp                 BIGINT NOT NULL,
		suggestion_code                TEXT NOT NULL,
		suggestion_language            TEXT NOT NULL,
		suggestion_explanation         TEXT,
		suggestion_applied_preferences JSONB NOT NULL DEFAULT '[]',
		correction_original_code       TEXT,
		correction_code                TEXT,
		correction_feedback            TEXT,
		correction_type                TEXT,
		accepted                       BOOLEAN NOT NULL DEFAULT FALSE,
		timestamp                      BIGINT NOT NULL
	)`,
	fmt.Sprintf(`CREATE TABLE IF NOT EXISTS learned_patterns (
		id                TEXT PRIMARY KEY,
		pattern_type      TEXT NOT NULL,
		name              TEXT NOT NULL,
		description       TEXT NOT NULL,
		metadata          JSONB NOT NULL DEFAULT '{}',
		confidence        DOUBLE PRECISION NOT NULL,
		observation_count INTEGER NOT NULL DEFAULT 1,
		task_context      TEXT,
		evidence          TEXT,
		embedding         vector(%d),
		first_seen        BIGINT NOT NULL,
		last_seen         BIGINT NOT NULL
	)`, EmbeddingDimensions),
	`CREATE INDEX IF NOT EXISTS idx_preferences_timestamp ON preferences(timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_history_task_id ON task_history(task_id)`,
	`CREATE INDEX IF NOT EXISTS idx_history_timestamp ON task_history(timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_learned_patterns_type ON learned_patterns(pattern_type)`,
	`CREATE INDEX IF NOT EXISTS idx_learned_patterns_confidence ON learned_patterns(confidence DESC, last_seen DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_learned_patterns_embedding ON learned_patterns USING hnsw (embedding vector_cosine_ops)`,
}

// InitSchema creates the extension, tables and indexes. It is idempotent.
func (s *Store) InitSchema(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, stmt := range schema {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// --- Preferences ---

func (s *Store) Preferences(ctx context.Context) ([]learning.LearnedPreference, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, type, description, example, task_context, timestamp
		 FROM preferences ORDER BY timestamp ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	defer rows.Close()

	out := []learning.LearnedPreference{}
	for rows.Next() {
		var (
			p                    learning.LearnedPreference
			ptype                string
			example, taskContext *string
		)
		if err := rows.Scan(&p.ID, &ptype, &p.Description, &example, &taskContext, &p.Timestamp); err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		p.Type = learning.PreferenceType(ptype)
		p.Example = deref(example)
		p.TaskContext = deref(taskContext)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) AddPreference(ctx context.Context, p learning.LearnedPreference) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO preferences (id, type, description, example, task_context, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, string(p.Type), p.Description, nullable(p.Example), nullable(p.TaskContext), p.Timestamp)
	if err != nil {
		return fmt.Errorf("insert preference %s: %w", p.ID, err)
	}
	return nil
}

// --- Task history ---

func (s *Store) History(ctx context.Context) ([]learning.TaskHistory, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT task_id, task_description, task_timestamp,
		        suggestion_code, suggestion_language, suggestion_explanation, suggestion_applied_preferences,
		        correction_original_code, correction_code, correction_feedback, correction_type,
		        accepted
		 FROM task_history ORDER BY timestamp ASC, seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	out := []learning.TaskHistory{}
	for rows.Next() {
		var (
			h                                    learning.TaskHistory
			explanation                          *string
			applied                              []byte
			corrOrig, corrCode, corrFB, corrType *string
		)
		if err := rows.Scan(&h.Task.ID, &h.Task.Description, &h.Task.Timestamp,
			&h.Suggestion.Code, &h.Suggestion.Language, &explanation, &applied,
			&corrOrig, &corrCode, &corrFB, &corrType,
			&h.Accepted); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		h.Suggestion.TaskID = h.Task.ID
		h.Suggestion.Explanation = deref(explanation)
		if err := json.Unmarshal(applied, &h.Suggestion.AppliedPreferences); err != nil {
			return nil, fmt.Errorf("unmarshal applied preferences: %w", err)
		}
		if h.Suggestion.AppliedPreferences == nil {
			h.Suggestion.AppliedPreferences = []string{}
		}
		if corrFB != nil {
			h.Correction = &learning.CorrectionFeedback{
				TaskID:         h.Task.ID,
				OriginalCode:   deref(corrOrig),
				CorrectedCode:  deref(corrCode),
				Feedback:       *corrFB,
				CorrectionType: learning.PreferenceType(deref(corrType)),
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
		return fmt.Errorf("marshal applied preferences: %w", err)
	}

	var corrOrig, corrCode, corrFB, corrType *string
	if c := h.Correction; c != nil {
		corrOrig = nullable(c.OriginalCode)
		corrCode = nullable(c.CorrectedCode)
		fb := c.Feedback
		corrFB = &fb
		corrType = nullable(string(c.CorrectionType))
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO task_history (
			id, task_id, task_description, task_timestamp,
			suggestion_code, suggestion_language, suggestion_explanation, suggestion_applied_preferences,
			correction_original_code, correction_code, correction_feedback, correction_type,
			accepted, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		uuid.New().String(), h.Task.ID, h.Task.Description, h.Task.Timestamp,
		h.Suggestion.Code, h.Suggestion.Language, nullable(h.Suggestion.Explanation), appliedJSON,
		corrOrig, corrCode, corrFB, corrType,
		h.Accepted, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("insert history for task %s: %w", h.Task.ID, err)
	}
	return nil
}

// --- Patterns ---

const patternColumns = `id, pattern_type, name, description, metadata, confidence, observation_count, task_context, evidence, first_seen, last_seen`

// scanPattern reads patternColumns followed by any extra destinations.
func scanPattern(row pgx.Row, extra ...any) (patterns.Pattern, error) {
	var (
		p                     patterns.Pattern
		ptype                 string
		metadata              []byte
		taskContext, evidence *string
	)
	dest := []any{&p.ID, &ptype, &p.Name, &p.Description, &metadata, &p.Confidence,
		&p.ObservationCount, &taskContext, &evidence, &p.FirstSeen, &p.LastSeen}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return patterns.Pattern{}, err
	}
	p.PatternType = patterns.PatternType(ptype)
	p.TaskContext = deref(taskContext)
	p.Evidence = deref(evidence)
	if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
		return patterns.Pattern{}, fmt.Errorf("unmarshal metadata for %s: %w", p.ID, err)
	}
	if p.Metadata == nil {
		p.Metadata = map[string]any{}
	}
	return p, nil
}

func (s *Store) InsertPattern(ctx context.Context, p patterns.Pattern, embedding []float32) error {
	meta := p.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	var vec *string
	if len(embedding) > 0 {
		lit := VectorLiteral(embedding)
		vec = &lit
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO learned_patterns (`+patternColumns+`, embedding)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::vector)`,
		p.ID, string(p.PatternType), p.Name, p.Description, metaJSON, p.Confidence,
		p.ObservationCount, nullable(p.TaskContext), nullable(p.Evidence), p.FirstSeen, p.LastSeen, vec)
	if err != nil {
		return fmt.Errorf("insert pattern %s: %w", p.ID, err)
	}
	return nil
}

func (s *Store) GetPattern(ctx context.Context, id string) (patterns.Pattern, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+patternColumns+` FROM learned_patterns WHERE id = $1`, id)
	p, err := scanPattern(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return patterns.Pattern{}, fmt.Errorf("get pattern %s: %w", id, patterns.ErrNotFound)
		}
		return patterns.Pattern{}, fmt.Errorf("get pattern %s: %w", id, err)
	}
	return p, nil
}

func (s *Store) FindPatternByName(ctx context.Context, t patterns.PatternType, name string) (patterns.Pattern, bool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+patternColumns+` FROM learned_patterns
		 WHERE pattern_type = $1 AND lower(name) = lower($2)
		 ORDER BY first_seen ASC LIMIT 1`,
		string(t), strings.TrimSpace(name))
	p, err := scanPattern(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return patterns.Pattern{}, false, nil
		}
		return patterns.Pattern{}, false, fmt.Errorf("find pattern %q: %w", name, err)
	}
	return p, true, nil
}

func (s *Store) ListPatterns(ctx context.Context, opts patterns.ListOptions) ([]patterns.Pattern, error) {
	query := `SELECT ` + patternColumns + ` FROM learned_patterns WHERE confidence >= $1`
	args := []any{opts.MinConfidence}
	if opts.PatternType != "" {
		args = append(args, string(opts.PatternType))
		query += fmt.Sprintf(` AND pattern_type = $%d`, len(args))
	}
	args = append(args, opts.Limit)
	query += fmt.Sprintf(` ORDER BY confidence DESC, last_seen DESC LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	defer rows.Close()

	out := []patterns.Pattern{}
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SearchPatterns orders by cosine distance and reports 1 - distance as the
// similarity.
func (s *Store) SearchPatterns(ctx context.Context, query []float32, opts patterns.SearchOptions) ([]patterns.SearchResult, error) {
	if opts.Limit <= 0 || len(query) == 0 {
		return []patterns.SearchResult{}, nil
	}
	args := []any{VectorLiteral(query), opts.MinSimilarity}
	where := `embedding IS NOT NULL AND 1 - (embedding <=> $1::vector) >= $2`
	if opts.PatternType != "" {
		args = append(args, string(opts.PatternType))
		where += fmt.Sprintf(` AND pattern_type = $%d`, len(args))
	}
	args = append(args, opts.Limit)
	q := `SELECT ` + patternColumns + `, 1 - (embedding <=> $1::vector) AS similarity
		FROM learned_patterns
		WHERE ` + where + `
		ORDER BY embedding <=> $1::vector
		LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search patterns: %w", err)
	}
	defer rows.Close()

	out := []patterns.SearchResult{}
	for rows.Next() {
		var similarity float64
		p, err := scanPattern(rows, &similarity)
		if err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		out = append(out, patterns.SearchResult{Pattern: p, Similarity: similarity})
	}
	return out, rows.Err()
}

func (s *Store) ReinforcePattern(ctx context.Context, id string, seenAt int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE learned_patterns
		 SET observation_count = observation_count + 1,
		     confidence = LEAST($2::double precision, confidence + $3::double precision),
		     last_seen = $4
		 WHERE id = $1`,
		id, patterns.MaxConfidence, patterns.ConfidenceStep, seenAt)
	if err != nil {
		return fmt.Errorf("reinforce pattern %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("reinforce pattern %s: %w", id, patterns.ErrNotFound)
	}
	return nil
}

func (s *Store) PatternsMissingEmbedding(ctx context.Context, limit int) ([]patterns.Pattern, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+patternColumns+` FROM learned_patterns
		 WHERE embedding IS NULL ORDER BY first_seen ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list patterns without embedding: %w", err)
	}
	defer rows.Close()

	var out []patterns.Pattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) SetPatternEmbedding(ctx context.Context, id string, embedding []float32) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE learned_patterns SET embedding = $2::vector WHERE id = $1`, id, VectorLiteral(embedding))
	if err != nil {
		return fmt.Errorf("set embedding %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set embedding %s: %w", id, patterns.ErrNotFound)
	}
	return nil
}

func (s *Store) DeletePatternsWithoutEmbedding(ctx context.Context) (patterns.CleanupResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return patterns.CleanupResult{}, fmt.Errorf("begin cleanup tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM learned_patterns WHERE embedding IS NULL`)
	if err != nil {
		return patterns.CleanupResult{}, fmt.Errorf("delete patterns without embedding: %w", err)
	}
	var remaining int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM learned_patterns`).Scan(&remaining); err != nil {
		return patterns.CleanupResult{}, fmt.Errorf("count patterns: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return patterns.CleanupResult{}, fmt.Errorf("commit cleanup: %w", err)
	}
	return patterns.CleanupResult{Deleted: int(tag.RowsAffected()), Remaining: remaining}, nil
}

// VectorLiteral formats v as a pgvector text literal: [a,b,c].
func VectorLiteral(v []float32) string {
	var b strings.Builder
	b.Grow(len(v)*8 + 2)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
