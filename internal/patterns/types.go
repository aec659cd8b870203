// Package patterns holds structured, embeddable patterns learned from code
// changes, the service that saves and searches them, and the LLM-driven
// extractor that finds them in diffs.
package patterns

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a pattern ID does not exist.
var ErrNotFound = errors.New("pattern not found")

type PatternType string

const (
	TypeSecurity      PatternType = "security"
	TypePerformance   PatternType = "performance"
	TypeStyle         PatternType = "style"
	TypeTesting       PatternType = "testing"
	TypeAccessibility PatternType = "accessibility"
	TypeOther         PatternType = "other"
)

// ParsePatternType validates s. An empty string means "any type".
func ParsePatternType(s string) (PatternType, error) {
	switch t := PatternType(s); t {
	case "", TypeSecurity, TypePerformance, TypeStyle, TypeTesting, TypeAccessibility, TypeOther:
		return t, nil
	}
	return "", fmt.Errorf("invalid pattern type %q", s)
}

type ControlLayer string

const (
	LayerInputHardening        ControlLayer = "input-hardening"
	LayerCredentialHygiene     ControlLayer = "credential-hygiene"
	LayerSessionGovernance     ControlLayer = "session-governance"
	LayerNetworkProtection     ControlLayer = "network-protection"
	LayerMonitoringAndAlerting ControlLayer = "monitoring-and-alerting"
	LayerOperationalGuardrail  ControlLayer = "operational-guardrail"
)

// ControlLayers lists the layers the extraction prompt offers the model.
var ControlLayers = []ControlLayer{
	LayerInputHardening,
	LayerCredentialHygiene,
	LayerSessionGovernance,
	LayerNetworkProtection,
	LayerMonitoringAndAlerting,
	LayerOperationalGuardrail,
}

// SecurityPattern is the shape the extraction model returns per pattern.
type SecurityPattern struct {
	Name             string       `json:"name"`
	ChangeNarrative  string       `json:"changeNarrative"`
	ThreatMitigated  string       `json:"threatMitigated"`
	ControlLayer     ControlLayer `json:"controlLayer"`
	Dependencies     []string     `json:"dependencies"`
	OperationalNotes string       `json:"operationalNotes,omitempty"`
	EvidenceFromDiff string       `json:"evidenceFromDiff"`
}

// Pattern is the stored form. Timestamps are unix ms.
type Pattern struct {
	ID               string         `json:"id"`
	PatternType      PatternType    `json:"patternType"`
	Name             string         `json:"name"`
	Description      string         `json:"description"`
	Metadata         map[string]any `json:"metadata"`
	Confidence       float64        `json:"confidence"`
	ObservationCount int            `json:"observationCount"`
	TaskContext      string         `json:"taskContext,omitempty"`
	Evidence         string         `json:"evidence,omitempty"`
	FirstSeen        int64          `json:"firstSeen"`
	LastSeen         int64          `json:"lastSeen"`
}

// SearchResult is a pattern with its cosine similarity to the query.
type SearchResult struct {
	Pattern
	Similarity float64 `json:"similarity"`
}

const (
	InitialConfidence = 0.33
	ConfidenceStep    = 0.1
	MaxConfidence     = 1.0
)

// ReinforcedConfidence returns c after one more observation.
func ReinforcedConfidence(c float64) float64 {
	return min(MaxConfidence, c+ConfidenceStep)
}

type SearchOptions struct {
	PatternType   PatternType
	Limit         int
	MinSimilarity float64
}

// DefaultSearchOptions returns limit 10 and a 0.7 similarity floor.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{Limit: 10, MinSimilarity: 0.7}
}

type ListOptions struct {
	PatternType   PatternType
	MinConfidence float64
	Limit         int
}

// CleanupResult reports a cleanup pass.
type CleanupResult struct {
	Deleted   int `json:"deletedCount"`
	Remaining int `json:"remainingCount"`
}

// Store is the persistence the service needs. Implemented by storage.Store
// and postgres.Store.
type Store interface {
	InsertPattern(ctx context.Context, p Pattern, embedding []float32) error
	GetPattern(ctx context.Context, id string) (Pattern, error)
	FindPatternByName(ctx context.Context, t PatternType, name string) (Pattern, bool, error)
	ListPatterns(ctx context.Context, opts ListOptions) ([]Pattern, error)
	SearchPatterns(ctx context.Context, query []float32, opts SearchOptions) ([]SearchResult, error)
	ReinforcePattern(ctx context.Context, id string, seenAt int64) error
	PatternsMissingEmbedding(ctx context.Context, limit int) ([]Pattern, error)
	SetPatternEmbedding(ctx context.Context, id string, embedding []float32) error
	DeletePatternsWithoutEmbedding(ctx context.Context) (CleanupResult, error)
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbedder embeds several texts at once.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
