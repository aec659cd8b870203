// Package questions holds the static question templates the planner chooses
// from. Templates are keyed by template ID ("q1", "q2_simple", ...).
package questions

import (
	_ "embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var templatesYAML []byte

// Option is one selectable answer of a template.
type Option struct {
	ID           string `yaml:"id" json:"id"`
	Label        string `yaml:"label" json:"label"`
	Description  string `yaml:"description" json:"description"`
	Example      string `yaml:"example" json:"example"`
	Implications string `yaml:"implications" json:"implications"`
}

// Template is a question as shown to the user before any adaptation.
type Template struct {
	ID          string   `yaml:"id" json:"id"`
	Text        string   `yaml:"text" json:"text"`
	Category    string   `yaml:"category" json:"category"`
	MultiSelect bool     `yaml:"multiSelect" json:"multiSelect"`
	Required    int      `yaml:"required" json:"required,omitempty"`
	MinSelect   int      `yaml:"minSelect" json:"minSelect,omitempty"`
	MaxSelect   int      `yaml:"maxSelect" json:"maxSelect,omitempty"`
	AppliesWhen []string `yaml:"appliesWhen" json:"appliesWhen,omitempty"`
	Options     []Option `yaml:"options" json:"options"`
}

// HasOption reports whether id names one of the template's options.
func (t Template) HasOption(id string) bool {
	for _, o := range t.Options {
		if o.ID == id {
			return true
		}
	}
	return false
}

// Catalog is an immutable set of templates.
type Catalog struct {
	byKey map[string]Template
}

// Default parses the embedded template set. It panics on a malformed
// embedded file since that can only be a build defect.
func Default() *Catalog {
	c, err := Parse(templatesYAML)
	if err != nil {
		panic(fmt.Sprintf("questions: embedded templates: %v", err))
	}
	return c
}

// Parse builds a catalog from YAML keyed by template ID.
func Parse(data []byte) (*Catalog, error) {
	var m map[string]Template
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing templates: %w", err)
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("parsing templates: no templates defined")
	}
	for key, t := range m {
		if len(t.Options) == 0 {
			return nil, fmt.Errorf("template %s has no options", key)
		}
	}
	return &Catalog{byKey: m}, nil
}

// Get returns the template for a template ID such as "q3_webapp".
func (c *Catalog) Get(key string) (Template, bool) {
	t, ok := c.byKey[key]
	return t, ok
}

// Keys returns all template IDs in sorted order.
func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.byKey))
	for k := range c.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
