package assistant

import (
	"sort"
	"strings"

	"github.com/kalambet/specforge/internal/learning"
)

const defaultMaxContextTokens = 4000

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

func preferenceTokens(p learning.LearnedPreference) int {
	n := EstimateTokens("- " + p.Description + "\n")
	if p.Example != "" {
		n += EstimateTokens("  Example: " + p.Example + "\n")
	}
	return n
}

func typeHeaderTokens(t learning.PreferenceType) int {
	return EstimateTokens("\n" + strings.ToUpper(string(t)) + ":\n")
}

// fitPreferences keeps the most recent preferences whose rendered size fits
// within budget tokens. A preference too large for the remaining budget is
// skipped and older ones are still considered. The first preference kept
// for a type also pays for that type's header line. The result keeps the
// input order.
func fitPreferences(prefs []learning.LearnedPreference, budget int) []learning.LearnedPreference {
	if len(prefs) == 0 || budget <= 0 {
		return nil
	}

	idx := make([]int, len(prefs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return prefs[idx[a]].Timestamp > prefs[idx[b]].Timestamp
	})

	keep := make([]bool, len(prefs))
	headed := make(map[learning.PreferenceType]bool)
	remaining := budget
	for _, i := range idx {
		tokens := preferenceTokens(prefs[i])
		if !headed[prefs[i].Type] {
			tokens += typeHeaderTokens(prefs[i].Type)
		}
		if tokens > remaining {
			continue
		}
		keep[i] = true
		headed[prefs[i].Type] = true
		remaining -= tokens
	}

	var out []learning.LearnedPreference
	for i, p := range prefs {
		if keep[i] {
			out = append(out, p)
		}
	}
	return out
}
