package progress

import "sort"

// clarityWeights ranks how much each phase contributes to a clear spec.
var clarityWeights = map[Phase]float64{
	PhaseProblemDefinition: 10,
	PhaseSolutionApproach:  8,
	PhaseScope:             9,
	PhaseTechnical:         6,
	PhaseExecution:         5,
}

// DeriveAggregates returns a copy of s with every derived field recomputed
// from the question map.
func DeriveAggregates(s State) State {
	c := s.Clone()
	derive(&c)
	return c
}

func derive(s *State) {
	s.Phases = make(map[Phase]PhaseInfo, len(Phases))
	if s.Questions == nil {
		s.Questions = map[string]Question{}
	}
	s.Order = orderedIDs(*s)

	members := make(map[Phase][]string, len(Phases))
	for _, id := range s.Order {
		q := s.Questions[id]
		if !q.Phase.Valid() {
			q.Phase = PhaseForTemplate(q.TemplateID)
			s.Questions[id] = q
		}
		members[q.Phase] = append(members[q.Phase], id)
	}

	var (
		total, resolved, answered, skipped int
		resolvedConf                       float64
		weighted, weightSum                float64
	)
	for _, p := range Phases {
		ids := members[p]
		if ids == nil {
			ids = []string{}
		}
		info := PhaseInfo{
			QuestionIDs:    ids,
			TotalQuestions: len(ids),
		}
		var confSum float64
		active := false
		for _, id := range ids {
			q := s.Questions[id]
			confSum += q.Confidence
			switch q.Status {
			case QuestionCompleted:
				info.CompletedQuestions++
				answered++
				resolvedConf += q.Confidence
			case QuestionSkipped:
				info.CompletedQuestions++
				skipped++
				resolvedConf += q.Confidence
			case QuestionActive:
				active = true
			}
		}
		if len(ids) > 0 {
			info.Confidence = confSum / float64(len(ids))
			w := clarityWeights[p]
			weighted += w * phaseCompletion(info)
			weightSum += w
		}

		switch {
		case len(s.Questions) == 0:
			info.Status = PhasePending
		case info.CompletedQuestions == info.TotalQuestions:
			info.Status = PhaseComplete
		case active:
			info.Status = PhaseActive
		default:
			info.Status = PhasePending
		}
		s.Phases[p] = info

		total += info.TotalQuestions
		resolved += info.CompletedQuestions
	}

	s.OverallCompletion = 0
	if total > 0 {
		s.OverallCompletion = 100 * float64(resolved) / float64(total)
	}

	s.SpecQuality.Completeness = s.OverallCompletion
	s.SpecQuality.Confidence = 0
	if resolved > 0 {
		s.SpecQuality.Confidence = 100 * resolvedConf / float64(resolved)
	}
	s.SpecQuality.Clarity = 0
	if weightSum > 0 {
		s.SpecQuality.Clarity = weighted / weightSum
	}

	s.Analytics.QuestionsAnswered = answered
	s.Analytics.QuestionsSkipped = skipped
	if !s.CurrentPhase.Valid() {
		s.CurrentPhase = PhaseProblemDefinition
	}
}

// orderedIDs returns plan order restricted to known questions, followed by
// any questions missing from the order in sorted order.
func orderedIDs(s State) []string {
	seen := make(map[string]bool, len(s.Questions))
	ids := make([]string, 0, len(s.Questions))
	for _, id := range s.Order {
		if _, ok := s.Questions[id]; ok && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	var rest []string
	for id := range s.Questions {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	return append(ids, rest...)
}

func phaseCompletion(info PhaseInfo) float64 {
	if info.TotalQuestions == 0 {
		return 0
	}
	return 100 * float64(info.CompletedQuestions) / float64(info.TotalQuestions)
}
