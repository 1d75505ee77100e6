package group

import (
	"fmt"
	"strings"
	"unicode"
)

// Submit modes: what trailing bytes a delivery appends so the actor's CLI
// accepts the input.
const (
	SubmitEnter   = "enter"
	SubmitNewline = "newline"
	SubmitNone    = "none"
)

// Runner kinds.
const (
	RunnerPTY      = "pty"
	RunnerHeadless = "headless"
)

// RuntimeCustom marks an actor that supplies its own command.
const RuntimeCustom = "custom"

// reservedActorIDs may not be used as actor ids; they collide with recipient
// tokens and the human sender identity.
var reservedActorIDs = map[string]bool{
	"user":    true,
	"system":  true,
	"daemon":  true,
	"all":     true,
	"peers":   true,
	"foreman": true,
}

// Actor is a runnable agent session inside a group. Role is positional, not
// stored: the first enabled actor in the group's list is the foreman.
type Actor struct {
	ID              string            `yaml:"id" json:"id"`
	Title           string            `yaml:"title,omitempty" json:"title,omitempty"`
	Command         []string          `yaml:"command,omitempty" json:"command,omitempty"`
	Env             map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	DefaultScopeKey string            `yaml:"default_scope_key,omitempty" json:"default_scope_key,omitempty"`
	Submit          string            `yaml:"submit,omitempty" json:"submit,omitempty"`
	Enabled         bool              `yaml:"enabled" json:"enabled"`
	Runner          string            `yaml:"runner,omitempty" json:"runner,omitempty"`
	Runtime         string            `yaml:"runtime,omitempty" json:"runtime,omitempty"`
	CreatedAt       string            `yaml:"created_at,omitempty" json:"created_at,omitempty"`
	UpdatedAt       string            `yaml:"updated_at,omitempty" json:"updated_at,omitempty"`
}

// ValidateActorID enforces the id grammar: 1-32 chars of letters, digits,
// CJK, underscore or hyphen; first char not punctuation; reserved ids
// forbidden.
func ValidateActorID(id string) error {
	if id == "" {
		return fmt.Errorf("actor id is empty")
	}
	runes := []rune(id)
	if len(runes) > 32 {
		return fmt.Errorf("actor id longer than 32 characters")
	}
	if reservedActorIDs[strings.ToLower(id)] {
		return fmt.Errorf("actor id %q is reserved", id)
	}
	for i, r := range runes {
		ok := unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-'
		if !ok {
			return fmt.Errorf("actor id %q has invalid character %q", id, r)
		}
		if i == 0 && (r == '_' || r == '-') {
			return fmt.Errorf("actor id %q starts with punctuation", id)
		}
	}
	return nil
}

// Normalize fills defaults and checks per-actor invariants. Runtime commands
// come from the runtime pool; custom pty actors must bring their own.
func (a *Actor) Normalize(runtimeCommand func(string) []string) error {
	if err := ValidateActorID(a.ID); err != nil {
		return err
	}
	if a.Submit == "" {
		a.Submit = SubmitEnter
	}
	switch a.Submit {
	case SubmitEnter, SubmitNewline, SubmitNone:
	default:
		return fmt.Errorf("actor %s: bad submit mode %q", a.ID, a.Submit)
	}
	if a.Runner == "" {
		a.Runner = RunnerPTY
	}
	switch a.Runner {
	case RunnerPTY, RunnerHeadless:
	default:
		return fmt.Errorf("actor %s: bad runner %q", a.ID, a.Runner)
	}
	if a.Runtime == "" {
		a.Runtime = RuntimeCustom
	}
	if a.Runtime == RuntimeCustom {
		if a.Runner == RunnerPTY && len(a.Command) == 0 {
			return fmt.Errorf("actor %s: custom runtime with pty runner needs a command", a.ID)
		}
		return nil
	}
	if len(a.Command) == 0 {
		if runtimeCommand == nil {
			return fmt.Errorf("actor %s: unknown runtime %q", a.ID, a.Runtime)
		}
		cmd := runtimeCommand(a.Runtime)
		if len(cmd) == 0 {
			return fmt.Errorf("actor %s: unknown runtime %q", a.ID, a.Runtime)
		}
		a.Command = cmd
	}
	return nil
}
