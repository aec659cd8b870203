// Package learning stores preferences learned from user corrections and the
// task history they came from. Writes go to a primary database when it is
// reachable and to a local JSON file otherwise.
package learning

import "fmt"

// PreferenceType tags what a preference is about.
type PreferenceType string

const (
	TypeTechStack PreferenceType = "tech_stack"
	TypePattern   PreferenceType = "pattern"
	TypeStyle     PreferenceType = "style"
	TypeSecurity  PreferenceType = "security"
	TypeOther     PreferenceType = "other"
)

// ParsePreferenceType validates s. An empty string maps to TypeOther.
func ParsePreferenceType(s string) (PreferenceType, error) {
	switch t := PreferenceType(s); t {
	case TypeTechStack, TypePattern, TypeStyle, TypeSecurity, TypeOther:
		return t, nil
	case "":
		return TypeOther, nil
	}
	return "", fmt.Errorf("invalid preference type %q", s)
}

// LearnedPreference is immutable once written. Timestamp is unix ms.
type LearnedPreference struct {
	ID          string         `json:"id"`
	Type        PreferenceType `json:"type"`
	Description string         `json:"description"`
	Example     string         `json:"example,omitempty"`
	Timestamp   int64          `json:"timestamp"`
	TaskContext string         `json:"taskContext,omitempty"`
}

type CodingTask struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Timestamp   int64  `json:"timestamp"`
}

type CodeSuggestion struct {
	TaskID             string   `json:"taskId"`
	Code               string   `json:"code"`
	Language           string   `json:"language"`
	Explanation        string   `json:"explanation,omitempty"`
	AppliedPreferences []string `json:"appliedPreferences"`
}

type CorrectionFeedback struct {
	TaskID         string         `json:"taskId"`
	OriginalCode   string         `json:"originalCode"`
	CorrectedCode  string         `json:"correctedCode,omitempty"`
	Feedback       string         `json:"feedback"`
	CorrectionType PreferenceType `json:"correctionType"`
}

// TaskHistory links a task, the suggestion made for it and the user's
// reaction. The log is append-only.
type TaskHistory struct {
	Task       CodingTask          `json:"task"`
	Suggestion CodeSuggestion      `json:"suggestion"`
	Correction *CorrectionFeedback `json:"correction,omitempty"`
	Accepted   bool                `json:"accepted"`
}
