package home

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Settings is the global settings.yaml document.
type Settings struct {
	V int `yaml:"v"`

	// Runtimes maps a known runtime name to its default launch command.
	// Built-in defaults are merged under configured entries.
	Runtimes map[string][]string `yaml:"runtimes,omitempty"`

	// LogFile is the daemon log path. Empty means <home>/daemon/ccccd.log;
	// "none"/"off" disables file logging.
	LogFile string `yaml:"log_file,omitempty"`
}

// DefaultSettings returns settings with the built-in runtime pool.
func DefaultSettings() *Settings {
	return &Settings{
		V: 1,
		Runtimes: map[string][]string{
			"claude": {"claude"},
			"codex":  {"codex"},
			"gemini": {"gemini"},
			"aider":  {"aider"},
		},
	}
}

// LoadSettings reads settings.yaml, filling defaults for unset fields.
// A missing file yields DefaultSettings.
func LoadSettings(path string) (*Settings, error) {
	s := DefaultSettings()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	var loaded Settings
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	if loaded.V != 0 {
		s.V = loaded.V
	}
	if loaded.LogFile != "" {
		s.LogFile = loaded.LogFile
	}
	for name, cmd := range loaded.Runtimes {
		s.Runtimes[name] = cmd
	}
	return s, nil
}

// RuntimeCommand returns the default launch command for a runtime name, or
// nil when unknown.
func (s *Settings) RuntimeCommand(runtime string) []string {
	cmd, ok := s.Runtimes[runtime]
	if !ok {
		return nil
	}
	out := make([]string, len(cmd))
	copy(out, cmd)
	return out
}
