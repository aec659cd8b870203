// Package progress tracks question and phase lifecycle for a planning
// session. State changes go through Reduce, which is pure: it never mutates
// its input and recomputes every derived field after each action.
package progress

import (
	"encoding/json"
	"strings"
)

// Phase is one of the five fixed questionnaire stages.
type Phase string

const (
	PhaseProblemDefinition Phase = "problemDefinition"
	PhaseSolutionApproach  Phase = "solutionApproach"
	PhaseScope             Phase = "scope"
	PhaseTechnical         Phase = "technical"
	PhaseExecution         Phase = "execution"
)

// Phases lists every phase in questionnaire order.
var Phases = []Phase{
	PhaseProblemDefinition,
	PhaseSolutionApproach,
	PhaseScope,
	PhaseTechnical,
	PhaseExecution,
}

var phaseTitles = map[Phase]string{
	PhaseProblemDefinition: "Problem Definition",
	PhaseSolutionApproach:  "Solution Approach",
	PhaseScope:             "Scope Definition",
	PhaseTechnical:         "Technical Requirements",
	PhaseExecution:         "Execution Strategy",
}

// Title returns a human-readable phase name.
func (p Phase) Title() string {
	if t, ok := phaseTitles[p]; ok {
		return t
	}
	return string(p)
}

// Valid reports whether p is one of the five known phases.
func (p Phase) Valid() bool {
	_, ok := phaseTitles[p]
	return ok
}

// PhaseForTemplate maps a template ID to its owning phase. Unknown IDs land
// in problemDefinition.
func PhaseForTemplate(templateID string) Phase {
	switch {
	case templateID == "q1":
		return PhaseProblemDefinition
	case strings.HasPrefix(templateID, "q2"):
		return PhaseSolutionApproach
	case strings.HasPrefix(templateID, "q3"):
		return PhaseScope
	case templateID == "q4":
		return PhaseTechnical
	case templateID == "q5":
		return PhaseExecution
	default:
		return PhaseProblemDefinition
	}
}

type PhaseStatus string

const (
	PhasePending  PhaseStatus = "pending"
	PhaseActive   PhaseStatus = "active"
	PhaseComplete PhaseStatus = "complete"
	// PhaseSkipped is accepted in serialized state but never derived.
	PhaseSkipped PhaseStatus = "skipped"
)

type QuestionStatus string

const (
	QuestionPending   QuestionStatus = "pending"
	QuestionActive    QuestionStatus = "active"
	QuestionCompleted QuestionStatus = "completed"
	QuestionSkipped   QuestionStatus = "skipped"
)

func (s QuestionStatus) valid() bool {
	switch s {
	case QuestionPending, QuestionActive, QuestionCompleted, QuestionSkipped:
		return true
	}
	return false
}

// Resolved reports whether the status counts toward completion.
func (s QuestionStatus) Resolved() bool {
	return s == QuestionCompleted || s == QuestionSkipped
}

type PhaseInfo struct {
	Status             PhaseStatus `json:"status"`
	Confidence         float64     `json:"confidence"`
	QuestionIDs        []string    `json:"questionsInPhase"`
	CompletedQuestions int         `json:"completedQuestions"`
	TotalQuestions     int         `json:"totalQuestions"`
}

// Question is one slot in the plan.
type Question struct {
	QuestionID    string          `json:"questionId"`
	TemplateID    string          `json:"templateId"`
	Status        QuestionStatus  `json:"status"`
	Phase         Phase           `json:"phase"`
	Reasoning     string          `json:"reasoning"`
	Confidence    float64         `json:"confidence"`
	Answer        json.RawMessage `json:"userAnswer,omitempty"`
	InferredValue json.RawMessage `json:"inferredValue,omitempty"`
	TimeSpentMs   int64           `json:"timeSpent,omitempty"`
}

// SpecQuality holds three 0-100 scores describing how well-specified the
// project is so far.
type SpecQuality struct {
	Completeness float64 `json:"completeness"`
	Confidence   float64 `json:"confidence"`
	Clarity      float64 `json:"clarity"`
}

// Analytics timestamps and durations are unix milliseconds.
type Analytics struct {
	StartTime         int64 `json:"startTime"`
	TotalTimeSpent    int64 `json:"totalTimeSpent"`
	QuestionsAnswered int   `json:"questionsAnswered"`
	QuestionsSkipped  int   `json:"questionsSkipped"`
}

// State is the aggregate root for one session.
type State struct {
	Phases            map[Phase]PhaseInfo `json:"phases"`
	Questions         map[string]Question `json:"questions"`
	Order             []string            `json:"order"`
	OverallCompletion float64             `json:"overallCompletion"`
	CurrentPhase      Phase               `json:"currentPhase"`
	CurrentQuestionID *string             `json:"currentQuestionId"`
	SpecQuality       SpecQuality         `json:"specQuality"`
	Analytics         Analytics           `json:"analytics"`
}

// NewState returns an empty state with all five phases pending.
func NewState() State {
	s := State{
		Phases:       make(map[Phase]PhaseInfo, len(Phases)),
		Questions:    map[string]Question{},
		CurrentPhase: PhaseProblemDefinition,
	}
	derive(&s)
	return s
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	c := s
	c.Phases = make(map[Phase]PhaseInfo, len(s.Phases))
	for p, info := range s.Phases {
		info.QuestionIDs = append([]string(nil), info.QuestionIDs...)
		c.Phases[p] = info
	}
	c.Questions = make(map[string]Question, len(s.Questions))
	for id, q := range s.Questions {
		q.Answer = cloneRaw(q.Answer)
		q.InferredValue = cloneRaw(q.InferredValue)
		c.Questions[id] = q
	}
	c.Order = append([]string(nil), s.Order...)
	if s.CurrentQuestionID != nil {
		id := *s.CurrentQuestionID
		c.CurrentQuestionID = &id
	}
	return c
}

func cloneRaw(r json.RawMessage) json.RawMessage {
	if r == nil {
		return nil
	}
	return append(json.RawMessage(nil), r...)
}
