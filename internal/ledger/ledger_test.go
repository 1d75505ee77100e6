package ledger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAppendWritesOneLinePerEvent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")

	ev, err := Append(path, KindChatMessage, "g_1", "s_1", "user", ChatMessageData{
		Text: "héllo",
		To:   []string{"@all"},
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if ev.ID == "" || len(ev.ID) != 32 {
		t.Errorf("expected 32-char uuid hex id, got %q", ev.ID)
	}

	last, err := ReadLast(path, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(last) != 1 {
		t.Fatalf("got %d events, want 1", len(last))
	}
	got := last[0]
	if got.ID != ev.ID || got.Kind != KindChatMessage || got.By != "user" {
		t.Errorf("round trip mismatch: %+v", got)
	}

	raw, _ := os.ReadFile(path)
	if strings.Count(string(raw), "\n") != 1 {
		t.Errorf("expected exactly one line, got %q", raw)
	}
	if !strings.Contains(string(raw), "héllo") {
		t.Errorf("non-ASCII not preserved: %q", raw)
	}
}

func TestAppendValidatesKnownKinds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")

	tests := []struct {
		name string
		kind string
		data any
		ok   bool
	}{
		{"chat.message valid", KindChatMessage, ChatMessageData{Text: "x"}, true},
		{"chat.message empty text", KindChatMessage, ChatMessageData{}, false},
		{"chat.message bad format", KindChatMessage, ChatMessageData{Text: "x", Format: "html"}, false},
		{"chat.message unknown field", KindChatMessage, map[string]any{"text": "x", "bogus": 1}, false},
		{"chat.read valid", KindChatRead, ChatReadData{ActorID: "a", EventID: "e", EventTS: NowTS()}, true},
		{"chat.read missing actor", KindChatRead, ChatReadData{EventID: "e"}, false},
		{"system.notify valid", KindSystemNotify, NotifyData{Text: "hi"}, true},
		{"unknown kind passes through", "custom.kind", map[string]any{"anything": true}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Append(path, tc.kind, "g_1", "", "user", tc.data)
			if tc.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestAppendDefaultsMessageFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	ev, err := Append(path, KindChatMessage, "g_1", "", "user", ChatMessageData{Text: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(ev.Data), `"format":"plain"`) {
		t.Errorf("format not defaulted: %s", ev.Data)
	}
	if !strings.Contains(string(ev.Data), `"to":[]`) {
		t.Errorf("to not normalized to empty list: %s", ev.Data)
	}
}

func TestReadAllSkipsPartialTrailingLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	if _, err := Append(path, KindChatMessage, "g_1", "", "user", ChatMessageData{Text: "a"}); err != nil {
		t.Fatal(err)
	}
	f, _ := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	f.WriteString(`{"v":1,"id":"trunc`)
	f.Close()

	events, err := ReadAll(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Errorf("got %d events, want 1 (partial line skipped)", len(events))
	}
}

func TestFindByID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	first, _ := Append(path, KindChatMessage, "g_1", "", "user", ChatMessageData{Text: "a"})
	second, _ := Append(path, KindChatMessage, "g_1", "", "user", ChatMessageData{Text: "b"})

	got, err := FindByID(path, second.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != second.ID {
		t.Errorf("FindByID(%s) = %+v", second.ID, got)
	}
	got, _ = FindByID(path, "nope")
	if got != nil {
		t.Error("expected nil for unknown id")
	}
	_ = first
}
