package group

import (
	"strings"
	"testing"
)

func TestValidateActorID(t *testing.T) {
	tests := []struct {
		id string
		ok bool
	}{
		{"peerA", true},
		{"peer-b", true},
		{"peer_b2", true},
		{"工人一号", true},
		{"a", true},
		{strings.Repeat("a", 32), true},
		{"", false},
		{strings.Repeat("a", 33), false},
		{"-lead", false},
		{"_lead", false},
		{"bad id", false},
		{"bad.id", false},
		{"user", false},
		{"System", false},
		{"all", false},
		{"foreman", false},
		{"peers", false},
		{"daemon", false},
	}
	for _, tc := range tests {
		err := ValidateActorID(tc.id)
		if tc.ok && err != nil {
			t.Errorf("ValidateActorID(%q) = %v, want ok", tc.id, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("ValidateActorID(%q) passed, want error", tc.id)
		}
	}
}

func poolLookup(runtime string) []string {
	if runtime == "claude" {
		return []string{"claude", "--dangerously-skip-permissions"}
	}
	return nil
}

func TestActorNormalizeDefaults(t *testing.T) {
	a := &Actor{ID: "peerA", Runtime: "claude"}
	if err := a.Normalize(poolLookup); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if a.Submit != SubmitEnter {
		t.Errorf("Submit = %q, want enter", a.Submit)
	}
	if a.Runner != RunnerPTY {
		t.Errorf("Runner = %q, want pty", a.Runner)
	}
	if len(a.Command) == 0 || a.Command[0] != "claude" {
		t.Errorf("Command = %v, want runtime pool command", a.Command)
	}
}

func TestActorNormalizeCustomNeedsCommand(t *testing.T) {
	a := &Actor{ID: "peerA"}
	if err := a.Normalize(poolLookup); err == nil {
		t.Fatal("custom pty actor without a command should fail")
	}
	a = &Actor{ID: "peerA", Runner: RunnerHeadless}
	if err := a.Normalize(poolLookup); err != nil {
		t.Fatalf("headless custom actor: %v", err)
	}
}

func TestActorNormalizeUnknownRuntime(t *testing.T) {
	a := &Actor{ID: "peerA", Runtime: "mystery"}
	if err := a.Normalize(poolLookup); err == nil {
		t.Fatal("unknown runtime should fail")
	}
}

func TestActorNormalizeExplicitCommandWins(t *testing.T) {
	a := &Actor{ID: "peerA", Runtime: "claude", Command: []string{"my-wrapper"}}
	if err := a.Normalize(poolLookup); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if a.Command[0] != "my-wrapper" {
		t.Errorf("Command = %v, explicit command should be kept", a.Command)
	}
}
