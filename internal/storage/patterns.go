package storage

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/specforge/internal/patterns"
)

func (s *Store) InsertPattern(ctx context.Context, p patterns.Pattern, embedding []float32) error {
	meta := p.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	var blob any
	if len(embedding) > 0 {
		blob = encodeFloat32s(embedding)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO learned_patterns (`+patternColumns+`, embedding, name_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, string(p.PatternType), p.Name, p.Description, string(metaJSON), p.Confidence,
		p.ObservationCount, nullString(p.TaskContext), nullString(p.Evidence), p.FirstSeen, p.LastSeen, blob,
		nameKey(p.Name),
	)
	if err != nil {
		return fmt.Errorf("inserting pattern %s: %w", p.ID, err)
	}
	return nil
}

func (s *Store) GetPattern(ctx context.Context, id string) (patterns.Pattern, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+patternColumns+` FROM learned_patterns WHERE id = ?`, id)
	p, err := scanPattern(row)
	if errors.Is(err, sql.ErrNoRows) {
		return patterns.Pattern{}, ErrNotFound
	}
	if err != nil {
		return patterns.Pattern{}, fmt.Errorf("loading pattern %s: %w", id, err)
	}
	return p, nil
}

// nameKey folds a pattern name for lookups. SQLite's lower() only folds
// ASCII, so keys are computed here and stored in name_key.
func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// fillNameKeys computes name_key for rows written before the column existed.
func (s *Store) fillNameKeys(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM learned_patterns WHERE name_key = '' AND name != ''`)
	if err != nil {
		return fmt.Errorf("finding patterns without name key: %w", err)
	}
	keys := map[string]string{}
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			rows.Close()
			return fmt.Errorf("scanning pattern name: %w", err)
		}
		keys[id] = nameKey(name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("finding patterns without name key: %w", err)
	}

	for id, key := range keys {
		if _, err := s.db.ExecContext(ctx, `UPDATE learned_patterns SET name_key = ? WHERE id = ?`, key, id); err != nil {
			return fmt.Errorf("setting name key for %s: %w", id, err)
		}
	}
	return nil
}

// FindPatternByName matches names case-insensitively within one type. The
// oldest match wins.
func (s *Store) FindPatternByName(ctx context.Context, t patterns.PatternType, name string) (patterns.Pattern, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+patternColumns+` FROM learned_patterns
		WHERE pattern_type = ? AND name_key = ?
		ORDER BY first_seen ASC LIMIT 1`,
		string(t), nameKey(name))
	p, err := scanPattern(row)
	if errors.Is(err, sql.ErrNoRows) {
		return patterns.Pattern{}, false, nil
	}
	if err != nil {
		return patterns.Pattern{}, false, fmt.Errorf("finding pattern %q: %w", name, err)
	}
	return p, true, nil
}

// ListPatterns orders by confidence, then recency.
func (s *Store) ListPatterns(ctx context.Context, opts patterns.ListOptions) ([]patterns.Pattern, error) {
	query := `SELECT ` + patternColumns + ` FROM learned_patterns WHERE confidence >= ?`
	args := []any{opts.MinConfidence}
	if opts.PatternType != "" {
		query += ` AND pattern_type = ?`
		args = append(args, string(opts.PatternType))
	}
	query += ` ORDER BY confidence DESC, last_seen DESC LIMIT ?`
	args = append(args, opts.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing patterns: %w", err)
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

// SearchPatterns scans every embedded pattern, scores it by cosine
// similarity against query and keeps the best opts.Limit above
// opts.MinSimilarity. Results are most similar first.
func (s *Store) SearchPatterns(ctx context.Context, query []float32, opts patterns.SearchOptions) ([]patterns.SearchResult, error) {
	if opts.Limit <= 0 || len(query) == 0 {
		return []patterns.SearchResult{}, nil
	}
	qNorm := norm(query)

	sqlQuery := `SELECT id, embedding FROM learned_patterns WHERE embedding IS NOT NULL`
	var args []any
	if opts.PatternType != "" {
		sqlQuery += ` AND pattern_type = ?`
		args = append(args, string(opts.PatternType))
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("scanning embeddings: %w", err)
	}

	h := &idScoreHeap{}
	heap.Init(h)
	var buf []float32
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			rows.Close()
			return nil, err
		}
		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}
		score := cosine(query, buf, qNorm)
		if score < opts.MinSimilarity {
			continue
		}
		if h.Len() < opts.Limit {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// Release the single connection before fetching rows by ID.
	rows.Close()

	top := make([]idScore, h.Len())
	for i := len(top) - 1; i >= 0; i-- {
		top[i] = heap.Pop(h).(idScore)
	}

	out := make([]patterns.SearchResult, 0, len(top))
	for _, c := range top {
		p, err := s.GetPattern(ctx, c.ID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, patterns.SearchResult{Pattern: p, Similarity: c.Score})
	}
	return out, nil
}

func (s *Store) ReinforcePattern(ctx context.Context, id string, seenAt int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE learned_patterns
		SET observation_count = observation_count + 1,
		    confidence = MIN(?, confidence + ?),
		    last_seen = ?
		WHERE id = ?`,
		patterns.MaxConfidence, patterns.ConfidenceStep, seenAt, id)
	if err != nil {
		return fmt.Errorf("reinforcing pattern %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// PatternsMissingEmbedding returns up to limit patterns without a vector,
// oldest first.
func (s *Store) PatternsMissingEmbedding(ctx context.Context, limit int) ([]patterns.Pattern, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+patternColumns+` FROM learned_patterns
		WHERE embedding IS NULL ORDER BY first_seen ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing patterns without embedding: %w", err)
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
	res, err := s.db.ExecContext(ctx, `UPDATE learned_patterns SET embedding = ? WHERE id = ?`, encodeFloat32s(embedding), id)
	if err != nil {
		return fmt.Errorf("storing embedding for %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeletePatternsWithoutEmbedding(ctx context.Context) (patterns.CleanupResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return patterns.CleanupResult{}, fmt.Errorf("beginning cleanup transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM learned_patterns WHERE embedding IS NULL`)
	if err != nil {
		return patterns.CleanupResult{}, fmt.Errorf("deleting patterns without embedding: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return patterns.CleanupResult{}, err
	}

	var remaining int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM learned_patterns`).Scan(&remaining); err != nil {
		return patterns.CleanupResult{}, fmt.Errorf("counting remaining patterns: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return patterns.CleanupResult{}, fmt.Errorf("committing cleanup: %w", err)
	}
	return patterns.CleanupResult{Deleted: int(deleted), Remaining: remaining}, nil
}
