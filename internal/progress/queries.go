package progress

// PhaseProgress returns the completed share of phase p as a percentage,
// or 0 for a phase with no questions.
func PhaseProgress(s State, p Phase) float64 {
	return phaseCompletion(s.Phases[p])
}

// Resolved counts completed-or-skipped questions and the total.
func Resolved(s State) (resolved, total int) {
	for _, q := range s.Questions {
		if q.Status.Resolved() {
			resolved++
		}
	}
	return resolved, len(s.Questions)
}

// NextQuestion returns the first pending question in plan order.
func NextQuestion(s State) (Question, bool) {
	for _, id := range orderedIDs(s) {
		if q := s.Questions[id]; q.Status == QuestionPending {
			return q, true
		}
	}
	return Question{}, false
}

// Current returns the question the current pointer names, if it exists.
func Current(s State) (Question, bool) {
	if s.CurrentQuestionID == nil {
		return Question{}, false
	}
	q, ok := s.Questions[*s.CurrentQuestionID]
	return q, ok
}
