package progress

import "encoding/json"

// Action is a state transition. The set of actions is closed.
type Action interface {
	apply(s *State)
}

// Reduce applies a to a copy of s and recomputes all derived fields.
// s is never modified.
func Reduce(s State, a Action) State {
	next := s.Clone()
	if a != nil {
		a.apply(&next)
	}
	derive(&next)
	return next
}

// InitializeFromPlan replaces the question set with the plan's items.
// SKIP items start skipped, everything else starts pending.
type InitializeFromPlan struct {
	Items    []PlanItem
	Analysis Analysis
	// StartedAt becomes Analytics.StartTime (unix ms).
	StartedAt int64
}

func (a InitializeFromPlan) apply(s *State) {
	s.Questions = make(map[string]Question, len(a.Items))
	s.Order = make([]string, 0, len(a.Items))

	for _, item := range a.Items {
		id := item.QuestionID
		if id == "" {
			id = item.TemplateID
		}
		if id == "" {
			continue
		}
		phase := PhaseForTemplate(item.TemplateID)
		status := QuestionPending
		if item.Status == PlanSkip {
			status = QuestionSkipped
		}
		if _, dup := s.Questions[id]; !dup {
			s.Order = append(s.Order, id)
		}
		s.Questions[id] = Question{
			QuestionID:    id,
			TemplateID:    item.TemplateID,
			Status:        status,
			Phase:         phase,
			Reasoning:     item.Reasoning,
			Confidence:    a.Analysis.ConfidenceFor(phase),
			InferredValue: cloneRaw(item.InferredValue),
		}
	}

	s.CurrentQuestionID = nil
	s.CurrentPhase = PhaseProblemDefinition
	s.Analytics.StartTime = a.StartedAt
}

// QuestionUpdate is a partial update; nil fields are left untouched.
type QuestionUpdate struct {
	Status        *QuestionStatus `json:"status,omitempty"`
	Answer        json.RawMessage `json:"userAnswer,omitempty"`
	InferredValue json.RawMessage `json:"inferredValue,omitempty"`
	Reasoning     *string         `json:"reasoning,omitempty"`
	Confidence    *float64        `json:"confidence,omitempty"`
	TimeSpentMs   *int64          `json:"timeSpent,omitempty"`
}

// UpdateQuestionProgress merges Update into the named question. Unknown IDs
// are ignored. A question that has left pending never returns to it, and a
// completed or skipped question is never reopened as active. Resolved
// questions may still be overwritten by a resubmission.
type UpdateQuestionProgress struct {
	QuestionID string
	Update     QuestionUpdate
}

func (a UpdateQuestionProgress) apply(s *State) {
	q, ok := s.Questions[a.QuestionID]
	if !ok {
		return
	}
	u := a.Update
	if u.Status != nil && u.Status.valid() {
		switch {
		case *u.Status == QuestionPending && q.Status != QuestionPending:
		case *u.Status == QuestionActive && q.Status.Resolved():
		default:
			q.Status = *u.Status
		}
	}
	if u.Answer != nil {
		q.Answer = cloneRaw(u.Answer)
	}
	if u.InferredValue != nil {
		q.InferredValue = cloneRaw(u.InferredValue)
	}
	if u.Reasoning != nil {
		q.Reasoning = *u.Reasoning
	}
	if u.Confidence != nil {
		q.Confidence = *u.Confidence
	}
	if u.TimeSpentMs != nil {
		q.TimeSpentMs = *u.TimeSpentMs
	}
	s.Questions[a.QuestionID] = q
}

// SetCurrentQuestion moves the current-question pointer. A known ID also
// makes that question active and moves the current phase to it; nil only
// clears the pointer.
type SetCurrentQuestion struct {
	QuestionID *string
}

func (a SetCurrentQuestion) apply(s *State) {
	if a.QuestionID == nil {
		s.CurrentQuestionID = nil
		return
	}
	id := *a.QuestionID
	s.CurrentQuestionID = &id
	q, ok := s.Questions[id]
	if !ok {
		return
	}
	q.Status = QuestionActive
	s.Questions[id] = q
	s.CurrentPhase = q.Phase
}

// RecalculateProgress changes nothing itself; Reduce always re-derives.
type RecalculateProgress struct{}

func (RecalculateProgress) apply(*State) {}

// UpdateAnalytics sets or accumulates session timing. Answered and skipped
// counts are derived and cannot be set.
type UpdateAnalytics struct {
	StartTime        *int64 `json:"startTime,omitempty"`
	TotalTimeSpentMs *int64 `json:"totalTimeSpent,omitempty"`
	AddTimeSpentMs   int64  `json:"addTimeSpent,omitempty"`
}

func (a UpdateAnalytics) apply(s *State) {
	if a.StartTime != nil {
		s.Analytics.StartTime = *a.StartTime
	}
	if a.TotalTimeSpentMs != nil {
		s.Analytics.TotalTimeSpent = *a.TotalTimeSpentMs
	}
	if a.AddTimeSpentMs > 0 {
		s.Analytics.TotalTimeSpent += a.AddTimeSpentMs
	}
}
