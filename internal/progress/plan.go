package progress

import "encoding/json"

// PlanStatus is the planner's decision for a single question slot.
type PlanStatus string

const (
	PlanSkip    PlanStatus = "SKIP"
	PlanAsk     PlanStatus = "ASK"
	PlanConfirm PlanStatus = "CONFIRM"
)

// PlanItem is one entry of the planner's ordered question plan. Field names
// follow the JSON the planning model produces.
type PlanItem struct {
	QuestionID         string          `json:"question_id"`
	TemplateID         string          `json:"template_id"`
	Status             PlanStatus      `json:"status"`
	Reasoning          string          `json:"reasoning"`
	PreSelectedOptions []string        `json:"pre_selected_options,omitempty"`
	InferredValue      json.RawMessage `json:"inferred_value,omitempty"`
	AdaptedText        string          `json:"adapted_text,omitempty"`
}

// Analysis is the planner's read of the user's idea.
type Analysis struct {
	UserInputSummary string          `json:"user_input_summary"`
	ConfidenceLevel  string          `json:"confidence_level"`
	InferredAspects  InferredAspects `json:"inferred_aspects"`
}

// InferredAspects values are opaque since the model may emit strings,
// arrays or null.
type InferredAspects struct {
	Goal                json.RawMessage `json:"goal,omitempty"`
	GoalConfidence      *float64        `json:"goal_confidence,omitempty"`
	Type                json.RawMessage `json:"type,omitempty"`
	TypeConfidence      *float64        `json:"type_confidence,omitempty"`
	Features            json.RawMessage `json:"features,omitempty"`
	FeaturesConfidence  *float64        `json:"features_confidence,omitempty"`
	Technical           json.RawMessage `json:"technical,omitempty"`
	TechnicalConfidence *float64        `json:"technical_confidence,omitempty"`
	Priority            json.RawMessage `json:"priority,omitempty"`
	PriorityConfidence  *float64        `json:"priority_confidence,omitempty"`
}

// DefaultConfidence is used when the analysis carries no score for a phase.
const DefaultConfidence = 0.8

// ConfidenceFor returns the analysis confidence for the aspect that drives
// phase p.
func (a Analysis) ConfidenceFor(p Phase) float64 {
	var c *float64
	switch p {
	case PhaseProblemDefinition:
		c = a.InferredAspects.GoalConfidence
	case PhaseSolutionApproach:
		c = a.InferredAspects.TypeConfidence
	case PhaseScope:
		c = a.InferredAspects.FeaturesConfidence
	case PhaseTechnical:
		c = a.InferredAspects.TechnicalConfidence
	case PhaseExecution:
		c = a.InferredAspects.PriorityConfidence
	}
	if c == nil || *c < 0 || *c > 1 {
		return DefaultConfidence
	}
	return *c
}
