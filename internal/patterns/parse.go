package patterns

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
)

// ParsePatterns pulls the list of pattern objects out of a model response.
// Accepted shapes, in order: a bare array, {"patterns": [...]},
// {"patterns": {"a": {...}}}, and any other object whose values are the
// patterns. Non-object entries are dropped. Unparsable input yields an
// empty list.
func ParsePatterns(raw string) []json.RawMessage {
	data := bytes.TrimSpace([]byte(raw))
	if len(data) == 0 {
		return []json.RawMessage{}
	}

	var candidates []json.RawMessage
	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &candidates); err != nil {
			slog.Warn("unparsable pattern array", "error", err)
			return []json.RawMessage{}
		}
	case '{':
		var wrapper struct {
			Patterns json.RawMessage `json:"patterns"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil {
			slog.Warn("unparsable pattern object", "error", err)
			return []json.RawMessage{}
		}
		inner := bytes.TrimSpace(wrapper.Patterns)
		switch {
		case len(inner) > 0 && inner[0] == '[':
			if err := json.Unmarshal(inner, &candidates); err != nil {
				return []json.RawMessage{}
			}
		case len(inner) > 0 && inner[0] == '{':
			candidates = objectValues(inner)
		default:
			candidates = objectValues(data)
		}
	default:
		slog.Warn("pattern response is neither array nor object", "prefix", truncate(string(data), 40))
		return []json.RawMessage{}
	}

	out := make([]json.RawMessage, 0, len(candidates))
	for _, c := range candidates {
		c = bytes.TrimSpace(c)
		if len(c) > 0 && c[0] == '{' {
			out = append(out, c)
		}
	}
	return out
}

// DecodeSecurityPatterns decodes every parsed entry that carries a name.
func DecodeSecurityPatterns(items []json.RawMessage) []SecurityPattern {
	var out []SecurityPattern
	for _, item := range items {
		var sp SecurityPattern
		if err := json.Unmarshal(item, &sp); err != nil {
			slog.Warn("skipping malformed pattern", "error", err)
			continue
		}
		if strings.TrimSpace(sp.Name) == "" {
			continue
		}
		out = append(out, sp)
	}
	return out
}

// objectValues returns an object's values in document order.
func objectValues(data []byte) []json.RawMessage {
	dec := json.NewDecoder(bytes.NewReader(data))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil
	}
	var values []json.RawMessage
	for dec.More() {
		if _, err := dec.Token(); err != nil {
			return values
		}
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return values
		}
		values = append(values, v)
	}
	return values
}

// EmbeddingText is the text embedded for a pattern:
// name | description | Mitigates: x | Layer: x | narrative.
func EmbeddingText(p Pattern) string {
	parts := []string{p.Name, p.Description}
	if v := metaString(p.Metadata, "threatMitigated"); v != "" {
		parts = append(parts, "Mitigates: "+v)
	}
	if v := metaString(p.Metadata, "controlLayer"); v != "" {
		parts = append(parts, "Layer: "+v)
	}
	if v := metaString(p.Metadata, "changeNarrative"); v != "" {
		parts = append(parts, v)
	}
	return strings.Join(parts, " | ")
}

func metaString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	switch v := m[key].(type) {
	case string:
		return v
	case ControlLayer:
		return string(v)
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
