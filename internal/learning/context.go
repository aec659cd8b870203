package learning

import "strings"

// BuildContextFromPreferences renders preferences as a prompt block grouped
// by type. Types appear in the order they are first seen.
func BuildContextFromPreferences(prefs []LearnedPreference) string {
	if len(prefs) == 0 {
		return ""
	}

	var order []PreferenceType
	grouped := make(map[PreferenceType][]LearnedPreference)
	for _, p := range prefs {
		if _, ok := grouped[p.Type]; !ok {
			order = append(order, p.Type)
		}
		grouped[p.Type] = append(grouped[p.Type], p)
	}

	var b strings.Builder
	b.WriteString("\n\nLearned preferences from previous interactions:\n")
	for _, t := range order {
		b.WriteString("\n" + strings.ToUpper(string(t)) + ":\n")
		for _, p := range grouped[t] {
			b.WriteString("- " + p.Description + "\n")
			if p.Example != "" {
				b.WriteString("  Example: " + p.Example + "\n")
			}
		}
	}
	return b.String()
}
