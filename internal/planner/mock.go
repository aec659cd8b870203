package planner

import (
	"encoding/json"

	"github.com/kalambet/specforge/internal/progress"
)

func ptr(f float64) *float64 { return &f }

// mockPlan is the canned plan for "I want to learn React by building a
// simple to-do app".
func mockPlan() rawPlan {
	return rawPlan{
		Analysis: progress.Analysis{
			UserInputSummary: "Learning project: React to-do app",
			ConfidenceLevel:  "high",
			InferredAspects: progress.InferredAspects{
				Goal:                json.RawMessage(`"learning"`),
				GoalConfidence:      ptr(0.98),
				Type:                json.RawMessage(`"webapp"`),
				TypeConfidence:      ptr(0.95),
				Features:            json.RawMessage(`["cms"]`),
				FeaturesConfidence:  ptr(0.80),
				Technical:           json.RawMessage(`["simple"]`),
				TechnicalConfidence: ptr(0.85),
				Priority:            json.RawMessage(`"learning"`),
				PriorityConfidence:  ptr(0.95),
			},
		},
		QuestionPlan: []progress.PlanItem{
			{
				QuestionID:    "q1",
				TemplateID:    "q1",
				Status:        progress.PlanSkip,
				Reasoning:     "Explicitly stated 'learn React' - clearly a learning project",
				InferredValue: json.RawMessage(`"learning"`),
			},
			{
				QuestionID:    "q2",
				TemplateID:    "q2_simple",
				Status:        progress.PlanSkip,
				Reasoning:     "To-do app implies web application",
				InferredValue: json.RawMessage(`"webapp"`),
			},
			{
				QuestionID:         "q3",
				TemplateID:         "q3_webapp",
				Status:             progress.PlanConfirm,
				Reasoning:          "To-do app needs content management, but might want other features",
				PreSelectedOptions: []string{"cms"},
				AdaptedText:        "For your to-do app, which features do you need? (Select 1-3)",
			},
			{
				QuestionID:    "q4",
				TemplateID:    "q4",
				Status:        progress.PlanSkip,
				Reasoning:     "Simple project mentioned, minimal tech stack",
				InferredValue: json.RawMessage(`"simple"`),
			},
			{
				QuestionID:    "q5",
				TemplateID:    "q5",
				Status:        progress.PlanSkip,
				Reasoning:     "Learning is the priority",
				InferredValue: json.RawMessage(`"learning"`),
			},
		},
		TotalQuestionsToAsk:     1,
		EstimatedCompletionTime: "30 seconds",
	}
}
