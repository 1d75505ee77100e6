package bridge

import (
	"strings"
	"testing"
)

func TestSummarize(t *testing.T) {
	if got := Summarize("short", 100, 10); got != "short" {
		t.Errorf("unclipped text changed: %q", got)
	}

	long := strings.Repeat("x", 50)
	got := Summarize(long, 10, 0)
	if !strings.HasSuffix(got, "…") {
		t.Errorf("char-clipped text missing marker: %q", got)
	}
	if len([]rune(strings.TrimSuffix(got, "\n…"))) != 10 {
		t.Errorf("clip length wrong: %q", got)
	}

	many := strings.Repeat("line\n", 20)
	got = Summarize(many, 0, 3)
	if n := strings.Count(strings.TrimSuffix(got, "\n…"), "\n"); n > 2 {
		t.Errorf("line clip kept %d newlines: %q", n, got)
	}
}

func TestFormatOutboundDefault(t *testing.T) {
	tests := []struct {
		by       string
		to       []string
		isSystem bool
		want     string
	}{
		{"lead", nil, false, "[lead] hi"},
		{"lead", []string{"peerA", "user"}, false, "[lead → peerA, user] hi"},
		{"daemon", nil, true, "[SYSTEM] hi"},
	}
	for _, tt := range tests {
		got := FormatOutboundDefault(tt.by, tt.to, "hi", tt.isSystem)
		if got != tt.want {
			t.Errorf("FormatOutboundDefault(%q, %v, %v) = %q, want %q", tt.by, tt.to, tt.isSystem, got, tt.want)
		}
	}
}
