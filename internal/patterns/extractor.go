package patterns

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/kalambet/specforge/internal/llm"
)

//go:embed samples/*.js
var samples embed.FS

const extractTemperature = 0.3

const extractSystemPrompt = "You are a code security expert who extracts reusable patterns from code diffs. Always respond with valid JSON only."

const extractPromptTemplate = `A code generator produced an initial code attempting to made secure and an expert then amended it with stronger security practices and follows better to his company's workflow. Review the diff and capture the concrete security patterns that the expert introduced.

Code Diff:
%s

Identify reusable security patterns that surface from moving the system-generated snippet to the expert version (e.g., input validation, parameterized query, password hashing, token issuance). Each pattern should stand on its own so it can be added to a pattern repository.

For each pattern, provide the following fields:
- name: Concise label for the pattern (e.g., "Input Validation Gate").
- changeNarrative: Two sentences describing what the expert changed compared to the generated code and how it now behaves.
- threatMitigated: The primary risk this pattern addresses (e.g., SQL injection, credential reuse, weak entropy).
- controlLayer: One of [%s].
- dependencies: Array of prerequisite or companion controls referenced in the change (validators, password policies, crypto primitives, middleware ordering, etc.).
- operationalNotes: Any implementation or governance considerations the engineering team should remember.
- evidenceFromDiff: Quote or paraphrase the specific diff hunk that demonstrates this pattern.

Respond with a JSON object that has a single top-level key "patterns" whose value is an array of these pattern objects.
Do not add commentary outside the JSON object.`

const emptyPatternsResponse = `{"patterns": []}`

// Diff is a unified diff plus line counts.
type Diff struct {
	Unified      string `json:"unified"`
	AddedLines   int    `json:"addedLines"`
	RemovedLines int    `json:"removedLines"`
}

// ComputeDiff returns the unified diff from original to modified.
func ComputeDiff(original, modified, originalName, modifiedName string) (Diff, error) {
	if originalName == "" {
		originalName = "original.js"
	}
	if modifiedName == "" {
		modifiedName = "modified.js"
	}
	a := difflib.SplitLines(original)
	b := difflib.SplitLines(modified)

	unified, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        a,
		B:        b,
		FromFile: originalName,
		ToFile:   modifiedName,
		FromDate: "Original",
		ToDate:   "Modified",
		Context:  3,
	})
	if err != nil {
		return Diff{}, fmt.Errorf("computing unified diff: %w", err)
	}

	d := Diff{Unified: unified}
	for _, op := range difflib.NewMatcher(a, b).GetOpCodes() {
		switch op.Tag {
		case 'r':
			d.RemovedLines += op.I2 - op.I1
			d.AddedLines += op.J2 - op.J1
		case 'd':
			d.RemovedLines += op.I2 - op.I1
		case 'i':
			d.AddedLines += op.J2 - op.J1
		}
	}
	return d, nil
}

// Extraction is the result of one extraction run.
type Extraction struct {
	Diff              Diff              `json:"diff"`
	OriginalCode      string            `json:"originalCode"`
	ModifiedCode      string            `json:"modifiedCode"`
	ExtractedPatterns []json.RawMessage `json:"extractedPatterns"`
	RawResponse       string            `json:"rawGPTResponse"`
	Saved             []Pattern         `json:"savedPatterns,omitempty"`
}

type ExtractOptions struct {
	OriginalName string
	ModifiedName string
	// Save stores every named pattern through the Service.
	Save        bool
	TaskContext string
}

// Extractor asks an LLM for the security patterns introduced between two
// versions of a file.
type Extractor struct {
	llm     llm.Client
	service *Service
	logger  *slog.Logger
}

// NewExtractor creates an Extractor. service may be nil when results are
// never saved.
func NewExtractor(client llm.Client, service *Service) *Extractor {
	return &Extractor{llm: client, service: service, logger: slog.Default()}
}

// Extract diffs original against modified and extracts patterns from the
// diff. Malformed model output yields an empty pattern list, not an error.
func (e *Extractor) Extract(ctx context.Context, original, modified string, opts ExtractOptions) (Extraction, error) {
	diff, err := ComputeDiff(original, modified, opts.OriginalName, opts.ModifiedName)
	if err != nil {
		return Extraction{}, err
	}

	raw, err := e.llm.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: extractSystemPrompt},
			{Role: llm.RoleUser, Content: buildExtractPrompt(diff.Unified)},
		},
		Temperature: extractTemperature,
		JSON:        true,
	})
	if err != nil {
		return Extraction{}, fmt.Errorf("extracting patterns: %w", err)
	}
	if strings.TrimSpace(raw) == "" {
		raw = emptyPatternsResponse
	}

	out := Extraction{
		Diff:              diff,
		OriginalCode:      original,
		ModifiedCode:      modified,
		ExtractedPatterns: ParsePatterns(raw),
		RawResponse:       raw,
	}

	if opts.Save {
		if e.service == nil {
			return out, fmt.Errorf("saving patterns: no pattern service configured")
		}
		for _, sp := range DecodeSecurityPatterns(out.ExtractedPatterns) {
			p, err := e.service.SaveSecurityPattern(ctx, sp, opts.TaskContext)
			if err != nil {
				e.logger.Warn("failed to save extracted pattern", "name", sp.Name, "error", err)
				continue
			}
			out.Saved = append(out.Saved, p)
		}
	}
	return out, nil
}

// Sample runs Extract on the built-in basic and hardened login endpoints.
func (e *Extractor) Sample(ctx context.Context, opts ExtractOptions) (Extraction, error) {
	original, modified, err := SamplePair()
	if err != nil {
		return Extraction{}, err
	}
	opts.OriginalName = "basic-login.js"
	opts.ModifiedName = "secure-login.js"
	return e.Extract(ctx, original, modified, opts)
}

// SamplePair returns the built-in basic and hardened login endpoints.
func SamplePair() (original, modified string, err error) {
	a, err := samples.ReadFile("samples/basic-login.js")
	if err != nil {
		return "", "", fmt.Errorf("reading sample: %w", err)
	}
	b, err := samples.ReadFile("samples/secure-login.js")
	if err != nil {
		return "", "", fmt.Errorf("reading sample: %w", err)
	}
	return string(a), string(b), nil
}

func buildExtractPrompt(unified string) string {
	layers := make([]string, len(ControlLayers))
	for i, l := range ControlLayers {
		layers[i] = fmt.Sprintf("%q", l)
	}
	return fmt.Sprintf(extractPromptTemplate, unified, strings.Join(layers, ", "))
}
