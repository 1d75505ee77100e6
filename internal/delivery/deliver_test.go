package delivery

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cccc-dev/cccc/internal/group"
	"github.com/cccc-dev/cccc/internal/home"
	"github.com/cccc-dev/cccc/internal/ledger"
)

// fakeTerm records injected payloads for one actor.
type fakeTerm struct {
	paste  bool
	writes []string
}

func (f *fakeTerm) WriteInput(p []byte) error { f.writes = append(f.writes, string(p)); return nil }
func (f *fakeTerm) BracketedPaste() bool      { return f.paste }

type fixture struct {
	g     *group.Group
	terms map[string]*fakeTerm
	d     *Deliverer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	g := group.NewGroup("crew")
	g.Actors = []*group.Actor{
		{ID: "lead", Enabled: true, Submit: "enter"},
		{ID: "peerA", Enabled: true, Submit: "enter"},
		{ID: "peerB", Enabled: true, Submit: "newline"},
	}
	terms := map[string]*fakeTerm{
		"lead":  {paste: true},
		"peerA": {paste: true},
		"peerB": {paste: true},
	}
	d := &Deliverer{
		Layout: home.Layout{Root: t.TempDir()},
		Lookup: func(gid, aid string) Terminal {
			if term, ok := terms[aid]; ok {
				return term
			}
			return nil
		},
		Logger: log.New(io.Discard, "", 0),
	}
	return &fixture{g: g, terms: terms, d: d}
}

func withData(t *testing.T, ev *ledger.Event, data *ledger.ChatMessageData) *ledger.Event {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}
	ev.Data = raw
	return ev
}

func chatEv(by string, to []string, text string) (*ledger.Event, *ledger.ChatMessageData) {
	data := &ledger.ChatMessageData{Text: text, Format: "plain", To: to}
	ev := &ledger.Event{
		V:    1,
		ID:   ledger.NewID(),
		TS:   ledger.NowTS(),
		Kind: ledger.KindChatMessage,
		By:   by,
	}
	return ev, data
}

func TestDeliverEventTargets(t *testing.T) {
	f := newFixture(t)
	ev, data := chatEv("lead", nil, "standup")
	got := f.d.DeliverEvent(f.g, ev, data)
	if len(got) != 2 {
		t.Fatalf("delivered to %v, want both peers", got)
	}
	if len(f.terms["lead"].writes) != 0 {
		t.Error("sender must not receive its own message")
	}
	if len(f.terms["peerA"].writes) != 1 || !strings.Contains(f.terms["peerA"].writes[0], "standup") {
		t.Errorf("peerA writes = %v", f.terms["peerA"].writes)
	}
}

func TestDeliverEventDirected(t *testing.T) {
	f := newFixture(t)
	ev, data := chatEv("user", []string{"peerB"}, "just you")
	got := f.d.DeliverEvent(f.g, ev, data)
	if len(got) != 1 || got[0] != "peerB" {
		t.Fatalf("delivered to %v, want [peerB]", got)
	}
	w := f.terms["peerB"].writes[0]
	if !strings.HasSuffix(w, "\n") {
		t.Errorf("peerB uses newline submit, got %q", w)
	}
}

func TestDeliverEventSkipsStoppedActors(t *testing.T) {
	f := newFixture(t)
	delete(f.terms, "peerA")
	ev, data := chatEv("lead", nil, "hello")
	got := f.d.DeliverEvent(f.g, ev, data)
	if len(got) != 1 || got[0] != "peerB" {
		t.Fatalf("delivered to %v, want only the running peer", got)
	}
}

func TestDeliverMultilineSpillsToFile(t *testing.T) {
	f := newFixture(t)
	f.terms["peerA"].paste = false
	ev, data := chatEv("lead", []string{"peerA"}, "line1\nline2")
	if got := f.d.DeliverEvent(f.g, ev, data); len(got) != 1 {
		t.Fatalf("delivered to %v", got)
	}
	w := f.terms["peerA"].writes[0]
	if !strings.Contains(w, "Delivered as file") {
		t.Errorf("expected file-fallback notice, got %q", w)
	}
}

func TestDeliverSpillSequenceNumbers(t *testing.T) {
	f := newFixture(t)
	f.terms["peerA"].paste = false
	for _, text := range []string{"a\nb", "c\nd"} {
		ev, data := chatEv("lead", []string{"peerA"}, text)
		if got := f.d.DeliverEvent(f.g, ev, data); len(got) != 1 {
			t.Fatalf("delivered to %v", got)
		}
	}
	dir := f.d.Layout.ActorInboxDir(f.g.GroupID, "peerA")
	for i, name := range []string{"000001.txt", "000002.txt"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			t.Errorf("spill %s missing: %v", name, err)
		}
		if !strings.Contains(f.terms["peerA"].writes[i], name) {
			t.Errorf("notice %d does not reference %s: %q", i, name, f.terms["peerA"].writes[i])
		}
	}
	// The processed/ sibling must exist for the actor to move files into.
	if info, err := os.Stat(f.d.Layout.ActorProcessedDir(f.g.GroupID, "peerA")); err != nil || !info.IsDir() {
		t.Errorf("processed dir: %v", err)
	}
}

func TestDeliverSystemUnknownActor(t *testing.T) {
	f := newFixture(t)
	if err := f.d.DeliverSystem(f.g, "ghost", "hi"); err == nil {
		t.Fatal("unknown actor should fail")
	}
}

func TestAutomationSelfCheckCadence(t *testing.T) {
	f := newFixture(t)
	am := &Automation{
		Layout:    f.d.Layout,
		Deliverer: f.d,
		Logger:    f.d.Logger,
		SystemPrompt: func(g *group.Group, aid string) string {
			return "[cccc] SYSTEM refresh"
		},
	}
	f.g.Automation.SelfCheckEveryHandoffs = 2
	f.g.Automation.SystemRefreshEverySelfChecks = 2

	for i := 0; i < 4; i++ {
		am.RecordHandoff(f.g, "peerA")
	}
	var selfChecks, refreshes int
	for _, w := range f.terms["peerA"].writes {
		if strings.Contains(w, "SELF-CHECK") {
			selfChecks++
		}
		if strings.Contains(w, "SYSTEM refresh") {
			refreshes++
		}
	}
	if selfChecks != 2 {
		t.Errorf("self-checks = %d, want 2 (every 2 handoffs)", selfChecks)
	}
	if refreshes != 1 {
		t.Errorf("system refreshes = %d, want 1 (every 2 self-checks)", refreshes)
	}
	st := am.State(f.g.GroupID, "peerA")
	if st.HandoffCount != 4 || st.SelfCheckCount != 2 {
		t.Errorf("state = %+v", st)
	}
}

func TestAutomationNudgeOncePerEvent(t *testing.T) {
	f := newFixture(t)
	am := &Automation{Layout: f.d.Layout, Deliverer: f.d, Logger: f.d.Logger}
	f.g.Automation.NudgeAfterSeconds = 300

	old := time.Now().Add(-10 * time.Minute)
	ev, _ := chatEv("lead", []string{"peerA"}, "stale question")
	ev.TS = old.UTC().Format(time.RFC3339Nano)
	events := []*ledger.Event{withData(t, ev, &ledger.ChatMessageData{Text: "stale question", To: []string{"peerA"}})}

	cursors := ledger.NewCursorStore(f.d.Layout.ReadCursorsFile(f.g.GroupID))
	now := time.Now()
	am.TickNudges(f.g, events, cursors, now)
	am.TickNudges(f.g, events, cursors, now)

	nudges := 0
	for _, w := range f.terms["peerA"].writes {
		if strings.Contains(w, "NUDGE") {
			nudges++
		}
	}
	if nudges != 1 {
		t.Fatalf("nudges = %d, want exactly 1 per event id", nudges)
	}
}

func TestAutomationNudgeRespectsAge(t *testing.T) {
	f := newFixture(t)
	am := &Automation{Layout: f.d.Layout, Deliverer: f.d, Logger: f.d.Logger}

	ev, _ := chatEv("lead", []string{"peerA"}, "fresh")
	events := []*ledger.Event{withData(t, ev, &ledger.ChatMessageData{Text: "fresh", To: []string{"peerA"}})}
	cursors := ledger.NewCursorStore(f.d.Layout.ReadCursorsFile(f.g.GroupID))
	am.TickNudges(f.g, events, cursors, time.Now())
	for _, w := range f.terms["peerA"].writes {
		if strings.Contains(w, "NUDGE") {
			t.Fatal("fresh message must not nudge")
		}
	}
}
