package group

import (
	"path/filepath"
	"strings"
	"testing"
)

func testGroup() *Group {
	g := NewGroup("build crew")
	g.Actors = []*Actor{
		{ID: "lead", Enabled: true, Runner: RunnerPTY, Command: []string{"claude"}},
		{ID: "peerA", Enabled: true, Runner: RunnerPTY, Command: []string{"codex"}},
		{ID: "peerB", Enabled: false, Runner: RunnerPTY, Command: []string{"gemini"}},
	}
	return g
}

func TestNewGroupID(t *testing.T) {
	id := NewGroupID()
	if !strings.HasPrefix(id, "g_") || len(id) != 2+12 {
		t.Fatalf("bad group id %q", id)
	}
	if id == NewGroupID() {
		t.Fatal("group ids collide")
	}
}

func TestGroupRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "group.yaml")
	g := testGroup()
	g.Topic = "ship the widget"
	g.Automation.NudgeAfterSeconds = 120
	if err := SaveGroup(path, g); err != nil {
		t.Fatalf("SaveGroup: %v", err)
	}

	got, err := LoadGroup(path)
	if err != nil {
		t.Fatalf("LoadGroup: %v", err)
	}
	if got.GroupID != g.GroupID || got.Topic != "ship the widget" {
		t.Errorf("round trip lost fields: %+v", got)
	}
	if got.Automation.NudgeAfterSeconds != 120 {
		t.Errorf("automation config lost: %+v", got.Automation)
	}
	if len(got.Actors) != 3 || got.Actors[1].ID != "peerA" {
		t.Errorf("actor order lost: %+v", got.Actors)
	}
	if got.UpdatedAt == "" {
		t.Error("updated_at not stamped on save")
	}
}

func TestGroupValidate(t *testing.T) {
	g := testGroup()
	if err := g.Validate(); err != nil {
		t.Fatalf("valid group rejected: %v", err)
	}
	g.Actors = append(g.Actors, &Actor{ID: "lead"})
	if err := g.Validate(); err == nil {
		t.Fatal("duplicate actor id accepted")
	}
	g = testGroup()
	g.ActiveScopeKey = "s_deadbeef0000"
	if err := g.Validate(); err == nil {
		t.Fatal("dangling active scope accepted")
	}
}

func TestForemanIsFirstEnabled(t *testing.T) {
	g := testGroup()
	if f := g.Foreman(); f == nil || f.ID != "lead" {
		t.Fatalf("foreman = %v, want lead", f)
	}
	g.Actors[0].Enabled = false
	if f := g.Foreman(); f == nil || f.ID != "peerA" {
		t.Fatalf("foreman after disable = %v, want peerA", f)
	}
	if g.EffectiveRole("peerA") != RoleForeman {
		t.Error("peerA should be promoted by position")
	}
	if g.EffectiveRole("lead") != RolePeer {
		t.Error("disabled lead should be a peer")
	}
}

func TestAttachDetachScope(t *testing.T) {
	g := testGroup()
	s1 := Scope{URL: "/a", ScopeKey: "s_aaaaaaaaaaaa", Label: "a"}
	s2 := Scope{URL: "/b", ScopeKey: "s_bbbbbbbbbbbb", Label: "b"}
	g.AttachScope(s1)
	g.AttachScope(s2)
	if g.ActiveScopeKey != s1.ScopeKey {
		t.Errorf("active = %q, want first attached", g.ActiveScopeKey)
	}

	g.AttachScope(Scope{URL: "/a2", ScopeKey: s1.ScopeKey, Label: "a"})
	if len(g.Scopes) != 2 || g.ScopeByKey(s1.ScopeKey).URL != "/a2" {
		t.Error("re-attach should refresh in place")
	}

	if !g.DetachScope(s1.ScopeKey) {
		t.Fatal("detach reported not attached")
	}
	if g.ActiveScopeKey != s2.ScopeKey {
		t.Errorf("active after detach = %q, want rotation to %q", g.ActiveScopeKey, s2.ScopeKey)
	}
	if g.DetachScope("s_missing00000") {
		t.Error("detach of unknown scope reported true")
	}
}
