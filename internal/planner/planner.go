// Package planner turns a free-text project idea into an ordered plan of
// intake questions, each enriched with its template and progress metadata.
package planner

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/specforge/internal/llm"
	"github.com/kalambet/specforge/internal/progress"
	"github.com/kalambet/specforge/internal/questions"
)

//go:embed prompt.md
var systemPrompt string

const planTemperature = 0.7

// ErrEmptyInput is returned when there is no idea to plan for.
var ErrEmptyInput = errors.New("project idea is empty")

// Template is a question template with the plan's adaptations applied.
type Template struct {
	questions.Template
	PreSelected []string `json:"preSelected"`
}

type Complexity string

const (
	ComplexitySimple Complexity = "simple"
	ComplexityMedium Complexity = "medium"
)

// ItemMetadata places a plan item within the wizard.
type ItemMetadata struct {
	Phase                progress.Phase `json:"phase"`
	SequenceNumber       int            `json:"sequenceNumber"`
	EstimatedTimeMinutes int            `json:"estimatedTimeMinutes"`
	Complexity           Complexity     `json:"complexity"`
	Confidence           float64        `json:"confidence"`
}

// Item is a plan item joined with its template.
type Item struct {
	progress.PlanItem
	Template         Template     `json:"template"`
	ProgressMetadata ItemMetadata `json:"progressMetadata"`
}

type PhaseStats struct {
	Total   int `json:"total"`
	ToAsk   int `json:"toAsk"`
	Skipped int `json:"skipped"`
}

// Metadata summarizes a whole plan.
type Metadata struct {
	PhaseStatistics       map[progress.Phase]PhaseStats `json:"phaseStatistics"`
	OverallConfidence     string                        `json:"overallConfidence"`
	TotalEstimatedMinutes int                           `json:"totalEstimatedMinutes"`
	QuestionsToAsk        int                           `json:"questionsToAsk"`
	QuestionsSkipped      int                           `json:"questionsSkipped"`
}

// Plan is the enriched planner output.
type Plan struct {
	Analysis         progress.Analysis `json:"analysis"`
	QuestionPlan     []Item            `json:"questionPlan"`
	TotalQuestions   int               `json:"totalQuestions"`
	EstimatedTime    string            `json:"estimatedTime"`
	ProgressMetadata Metadata          `json:"progressMetadata"`
}

// Items returns the bare plan items in order, ready for
// progress.InitializeFromPlan.
func (p Plan) Items() []progress.PlanItem {
	out := make([]progress.PlanItem, len(p.QuestionPlan))
	for i, it := range p.QuestionPlan {
		out[i] = it.PlanItem
	}
	return out
}

// rawPlan is the JSON the planning model produces.
type rawPlan struct {
	Analysis                progress.Analysis   `json:"analysis"`
	QuestionPlan            []progress.PlanItem `json:"question_plan"`
	TotalQuestionsToAsk     int                 `json:"total_questions_to_ask"`
	EstimatedCompletionTime string              `json:"estimated_completion_time"`
}

// Planner generates question plans.
type Planner struct {
	llm     llm.Client
	catalog *questions.Catalog
	mock    bool
	logger  *slog.Logger
}

// New creates a Planner. In mock mode Generate returns a fixed plan for a
// learning project without calling the model.
func New(client llm.Client, catalog *questions.Catalog, mock bool) *Planner {
	if catalog == nil {
		catalog = questions.Default()
	}
	return &Planner{llm: client, catalog: catalog, mock: mock, logger: slog.Default()}
}

// Generate asks the model for a plan for userInput and enriches it. Model
// output that is not valid JSON yields an empty plan; transport errors are
// returned.
func (p *Planner) Generate(ctx context.Context, userInput string) (Plan, error) {
	userInput = strings.TrimSpace(userInput)
	if userInput == "" {
		return Plan{}, ErrEmptyInput
	}
	if p.mock {
		p.logger.Info("using mock plan")
		return p.enrich(mockPlan()), nil
	}

	raw, err := p.llm.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: fmt.Sprintf("USER'S PROJECT IDEA: %s\n\nAnalyze this idea and generate a complete question plan. Respond with valid JSON format.", userInput)},
		},
		Temperature: planTemperature,
		JSON:        true,
	})
	if err != nil {
		return Plan{}, fmt.Errorf("generating plan: %w", err)
	}

	var rp rawPlan
	if err := json.Unmarshal([]byte(raw), &rp); err != nil {
		p.logger.Warn("unparsable plan from model, returning empty plan", "error", err)
		return p.enrich(rawPlan{}), nil
	}
	return p.enrich(rp), nil
}

// enrich joins every item with its template and computes plan statistics.
// Items naming an unknown template are dropped.
func (p *Planner) enrich(rp rawPlan) Plan {
	plan := Plan{
		Analysis:      rp.Analysis,
		QuestionPlan:  []Item{},
		EstimatedTime: rp.EstimatedCompletionTime,
		ProgressMetadata: Metadata{
			PhaseStatistics:   make(map[progress.Phase]PhaseStats, len(progress.Phases)),
			OverallConfidence: rp.Analysis.ConfidenceLevel,
		},
	}
	for _, ph := range progress.Phases {
		plan.ProgressMetadata.PhaseStatistics[ph] = PhaseStats{}
	}
	if plan.ProgressMetadata.OverallConfidence == "" {
		plan.ProgressMetadata.OverallConfidence = "medium"
	}

	for _, it := range rp.QuestionPlan {
		tmpl, ok := p.catalog.Get(it.TemplateID)
		if !ok {
			p.logger.Warn("dropping plan item with unknown template", "question_id", it.QuestionID, "template_id", it.TemplateID)
			continue
		}
		it.Status = progress.PlanStatus(strings.ToUpper(string(it.Status)))
		phase := progress.PhaseForTemplate(it.TemplateID)

		t := Template{Template: tmpl, PreSelected: it.PreSelectedOptions}
		if it.AdaptedText != "" {
			t.Text = it.AdaptedText
		}
		if t.PreSelected == nil {
			t.PreSelected = []string{}
		}

		meta := ItemMetadata{
			Phase:          phase,
			SequenceNumber: len(plan.QuestionPlan) + 1,
			Complexity:     ComplexitySimple,
			Confidence:     rp.Analysis.ConfidenceFor(phase),
		}
		if tmpl.MultiSelect {
			meta.Complexity = ComplexityMedium
		}
		switch {
		case it.Status == progress.PlanSkip:
			meta.EstimatedTimeMinutes = 0
		case tmpl.MultiSelect:
			meta.EstimatedTimeMinutes = 2
		default:
			meta.EstimatedTimeMinutes = 1
		}

		plan.QuestionPlan = append(plan.QuestionPlan, Item{PlanItem: it, Template: t, ProgressMetadata: meta})

		st := plan.ProgressMetadata.PhaseStatistics[phase]
		st.Total++
		if it.Status == progress.PlanSkip {
			st.Skipped++
			plan.ProgressMetadata.QuestionsSkipped++
		} else {
			st.ToAsk++
			plan.ProgressMetadata.QuestionsToAsk++
		}
		plan.ProgressMetadata.PhaseStatistics[phase] = st
		plan.ProgressMetadata.TotalEstimatedMinutes += meta.EstimatedTimeMinutes
	}

	plan.TotalQuestions = rp.TotalQuestionsToAsk
	if plan.TotalQuestions <= 0 {
		plan.TotalQuestions = plan.ProgressMetadata.QuestionsToAsk
	}
	return plan
}
