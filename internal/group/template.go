package group

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Template is the user-editable seed for a new group: the document minus
// identity and runtime fields.
type Template struct {
	Title      string           `yaml:"title,omitempty"`
	Topic      string           `yaml:"topic,omitempty"`
	Actors     []*Actor         `yaml:"actors,omitempty"`
	Delivery   DeliveryConfig   `yaml:"delivery,omitempty"`
	Automation AutomationConfig `yaml:"automation,omitempty"`
	Messaging  MessagingConfig  `yaml:"messaging,omitempty"`
}

// ParseTemplate decodes a template document and normalizes its actors.
func ParseTemplate(data []byte, runtimeCommand func(string) []string) (*Template, error) {
	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	seen := make(map[string]bool, len(t.Actors))
	for _, a := range t.Actors {
		if err := a.Normalize(runtimeCommand); err != nil {
			return nil, err
		}
		if seen[a.ID] {
			return nil, fmt.Errorf("duplicate actor id %q", a.ID)
		}
		seen[a.ID] = true
	}
	return &t, nil
}

// DumpTemplate renders a template back to YAML.
func DumpTemplate(t *Template) ([]byte, error) {
	return yaml.Marshal(t)
}

// Apply copies the template onto a fresh group document.
func (t *Template) Apply(g *Group) {
	if t.Title != "" {
		g.Title = t.Title
	}
	if t.Topic != "" {
		g.Topic = t.Topic
	}
	g.Actors = t.Actors
	g.Delivery = t.Delivery
	g.Automation = t.Automation
	g.Messaging = t.Messaging
}
