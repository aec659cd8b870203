package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/kalambet/specforge/internal/patterns"
)

// ErrNotFound is returned when a requested record does not exist. It is the
// patterns sentinel so callers can match it with errors.Is either way.
var ErrNotFound = patterns.ErrNotFound

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

const patternColumns = `id, pattern_type, name, description, metadata, confidence, observation_count, task_context, evidence, first_seen, last_seen`

func scanPattern(sc scanner) (patterns.Pattern, error) {
	var (
		p           patterns.Pattern
		ptype       string
		metadata    string
		taskContext sql.NullString
		evidence    sql.NullString
	)
	if err := sc.Scan(&p.ID, &ptype, &p.Name, &p.Description, &metadata, &p.Confidence,
		&p.ObservationCount, &taskContext, &evidence, &p.FirstSeen, &p.LastSeen); err != nil {
		return patterns.Pattern{}, err
	}
	p.PatternType = patterns.PatternType(ptype)
	p.TaskContext = taskContext.String
	p.Evidence = evidence.String
	if err := json.Unmarshal([]byte(metadata), &p.Metadata); err != nil {
		return patterns.Pattern{}, fmt.Errorf("decoding metadata for %s: %w", p.ID, err)
	}
	if p.Metadata == nil {
		p.Metadata = map[string]any{}
	}
	return p, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
