package home

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDirHonorsEnv(t *testing.T) {
	t.Setenv(EnvVar, "/tmp/cccc-test-home")
	if got := Dir(); got != "/tmp/cccc-test-home" {
		t.Errorf("Dir() = %q, want env override", got)
	}
}

func TestLayoutPaths(t *testing.T) {
	l := NewLayout("/base")
	tests := []struct {
		got  string
		want string
	}{
		{l.SocketPath(), "/base/daemon/ccccd.sock"},
		{l.PIDFile(), "/base/daemon/ccccd.pid"},
		{l.LedgerFile("g_abc"), "/base/groups/g_abc/ledger.jsonl"},
		{l.ReadCursorsFile("g_abc"), "/base/groups/g_abc/state/read_cursors.json"},
		{l.InboxSeqFile("g_abc", "peer-a"), "/base/groups/g_abc/state/inbox-seq-peer-a.txt"},
		{l.RunnerStateFile("g_abc", "dev"), "/base/groups/g_abc/state/runners/pty/dev.json"},
		{l.ScopeFile("g_abc", "s_1"), "/base/groups/g_abc/scopes/s_1/scope.yaml"},
	}
	for _, tc := range tests {
		if tc.got != filepath.FromSlash(tc.want) {
			t.Errorf("got %q, want %q", tc.got, tc.want)
		}
	}
}

func TestLoadSettingsDefaultsAndMerge(t *testing.T) {
	dir := t.TempDir()

	s, err := LoadSettings(filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadSettings missing file: %v", err)
	}
	if len(s.RuntimeCommand("claude")) == 0 {
		t.Error("expected built-in claude runtime")
	}

	path := filepath.Join(dir, "settings.yaml")
	content := "v: 1\nruntimes:\n  claude: [\"claude\", \"--continue\"]\n  mycli: [\"mycli\", \"repl\"]\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err = LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if got := s.RuntimeCommand("claude"); len(got) != 2 || got[1] != "--continue" {
		t.Errorf("claude runtime not overridden: %v", got)
	}
	if got := s.RuntimeCommand("mycli"); len(got) != 2 {
		t.Errorf("custom runtime missing: %v", got)
	}
	if got := s.RuntimeCommand("codex"); len(got) != 1 {
		t.Errorf("built-in codex lost in merge: %v", got)
	}
	if s.RuntimeCommand("nope") != nil {
		t.Error("unknown runtime should return nil")
	}
}
