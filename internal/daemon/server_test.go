package daemon

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cccc-dev/cccc/internal/delivery"
	"github.com/cccc-dev/cccc/internal/group"
	"github.com/cccc-dev/cccc/internal/home"
	"github.com/cccc-dev/cccc/internal/ledger"
)

func startServer(t *testing.T) (*Client, home.Layout) {
	t.Helper()
	layout := home.Layout{Root: t.TempDir()}
	logger := log.New(io.Discard, "", 0)
	srv := NewServer(layout, home.DefaultSettings(), logger, "test")

	done := make(chan error, 1)
	go func() { done <- srv.Run() }()

	client := NewClient(layout.SocketPath())
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := client.Call("ping", nil); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("daemon never answered ping")
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Cleanup(func() {
		client.Call("shutdown", map[string]string{"by": "user"})
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	})
	return client, layout
}

func callCode(t *testing.T, client *Client, op string, args any) string {
	t.Helper()
	_, err := client.Call(op, args)
	if err == nil {
		t.Fatalf("%s: expected error", op)
	}
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("%s: error %v is not *Error", op, err)
	}
	return e.Code
}

func TestPing(t *testing.T) {
	client, _ := startServer(t)
	var res struct {
		Version string `json:"version"`
		PID     int    `json:"pid"`
		Now     string `json:"now"`
	}
	if err := client.CallInto("ping", nil, &res); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if res.Version != "test" || res.PID == 0 || res.Now == "" {
		t.Errorf("ping result %+v", res)
	}
}

func TestUnknownOp(t *testing.T) {
	client, _ := startServer(t)
	if code := callCode(t, client, "frobnicate", nil); code != CodeInvalidRequest {
		t.Errorf("code = %s", code)
	}
}

func TestAttachAndSend(t *testing.T) {
	client, layout := startServer(t)
	proj := t.TempDir()

	var attach struct {
		GroupID  string `json:"group_id"`
		ScopeKey string `json:"scope_key"`
	}
	if err := client.CallInto("attach", map[string]string{"path": proj, "by": "user"}, &attach); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if attach.GroupID == "" || attach.ScopeKey == "" {
		t.Fatalf("attach result %+v", attach)
	}

	var send struct {
		EventID string `json:"event_id"`
	}
	err := client.CallInto("send", map[string]any{
		"group_id": attach.GroupID, "text": "hello", "by": "user", "to": []string{"@all"},
	}, &send)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	events, err2 := ledger.ReadLast(layout.LedgerFile(attach.GroupID), 2)
	if err2 != nil || len(events) != 2 {
		t.Fatalf("tail: %v %v", events, err2)
	}
	if events[0].Kind != ledger.KindGroupAttach || events[1].Kind != ledger.KindChatMessage {
		t.Errorf("kinds = %s, %s", events[0].Kind, events[1].Kind)
	}
	var data ledger.ChatMessageData
	if err := json.Unmarshal(events[1].Data, &data); err != nil {
		t.Fatal(err)
	}
	if data.Text != "hello" || len(data.To) != 1 || data.To[0] != "@all" {
		t.Errorf("chat data %+v", data)
	}

	// The derived scope is mirrored into the group's scopes directory.
	sc, err3 := group.LoadScope(layout.ScopeFile(attach.GroupID, attach.ScopeKey))
	if err3 != nil {
		t.Fatalf("scope mirror: %v", err3)
	}
	if sc.ScopeKey != attach.ScopeKey || sc.URL == "" || sc.Label == "" {
		t.Errorf("scope doc %+v", sc)
	}

	// Re-attach from the same path lands in the same group.
	var again struct {
		GroupID string `json:"group_id"`
	}
	if err := client.CallInto("attach", map[string]string{"path": proj, "by": "user"}, &again); err != nil {
		t.Fatal(err)
	}
	if again.GroupID != attach.GroupID {
		t.Errorf("re-attach created a new group: %s vs %s", again.GroupID, attach.GroupID)
	}
}

func TestSendValidation(t *testing.T) {
	client, _ := startServer(t)
	var res struct {
		GroupID string `json:"group_id"`
	}
	if err := client.CallInto("group_create", map[string]string{"title": "t", "by": "user"}, &res); err != nil {
		t.Fatal(err)
	}
	if code := callCode(t, client, "send", map[string]any{"group_id": res.GroupID, "by": "user"}); code != CodeMissingText {
		t.Errorf("missing text code = %s", code)
	}
	code := callCode(t, client, "send", map[string]any{
		"group_id": res.GroupID, "by": "user", "text": "x", "to": []string{"ghost"},
	})
	if code != CodeActorNotFound {
		t.Errorf("unknown recipient code = %s", code)
	}
	if code := callCode(t, client, "send", map[string]any{"by": "user", "text": "x"}); code != CodeMissingGroupID {
		t.Errorf("missing group code = %s", code)
	}
}

func seedGroup(t *testing.T, client *Client) string {
	t.Helper()
	var res struct {
		GroupID string `json:"group_id"`
	}
	if err := client.CallInto("group_create", map[string]string{"title": "crew", "by": "user"}, &res); err != nil {
		t.Fatalf("group_create: %v", err)
	}
	for _, id := range []string{"lead", "peerA"} {
		err := client.CallInto("actor_add", map[string]any{
			"group_id": res.GroupID, "by": "user",
			"actor": map[string]any{"id": id, "enabled": true, "runner": "headless"},
		}, nil)
		if err != nil {
			t.Fatalf("actor_add %s: %v", id, err)
		}
	}
	return res.GroupID
}

func TestInboxListAndMarkRead(t *testing.T) {
	client, _ := startServer(t)
	gid := seedGroup(t, client)

	for _, text := range []string{"first", "second"} {
		if err := client.CallInto("send", map[string]any{
			"group_id": gid, "by": "user", "text": text, "to": []string{"peerA"},
		}, nil); err != nil {
			t.Fatal(err)
		}
	}

	var inbox struct {
		Events []*ledger.Event `json:"events"`
	}
	err := client.CallInto("inbox_list", map[string]any{
		"group_id": gid, "actor_id": "peerA", "by": "peerA",
	}, &inbox)
	if err != nil {
		t.Fatalf("inbox_list: %v", err)
	}
	if len(inbox.Events) != 2 {
		t.Fatalf("unread = %d, want 2", len(inbox.Events))
	}

	err = client.CallInto("inbox_mark_read", map[string]any{
		"group_id": gid, "actor_id": "peerA", "by": "peerA", "event_id": inbox.Events[0].ID,
	}, nil)
	if err != nil {
		t.Fatalf("inbox_mark_read: %v", err)
	}

	err = client.CallInto("inbox_list", map[string]any{
		"group_id": gid, "actor_id": "peerA", "by": "peerA",
	}, &inbox)
	if err != nil {
		t.Fatal(err)
	}
	if len(inbox.Events) != 1 {
		t.Fatalf("unread after mark = %d, want 1", len(inbox.Events))
	}

	// chat.read must be on the ledger for read receipts.
	var tail struct {
		Events []*ledger.Event `json:"events"`
	}
	if err := client.CallInto("ledger_tail", map[string]any{"group_id": gid, "by": "user", "n": 1}, &tail); err != nil {
		t.Fatal(err)
	}
	if len(tail.Events) != 1 || tail.Events[0].Kind != ledger.KindChatRead {
		t.Errorf("last event %+v", tail.Events)
	}
}

func TestPermissions(t *testing.T) {
	client, _ := startServer(t)
	gid := seedGroup(t, client)

	// Peers cannot read someone else's inbox.
	code := callCode(t, client, "inbox_list", map[string]any{
		"group_id": gid, "actor_id": "lead", "by": "peerA",
	})
	if code != CodePermissionDenied {
		t.Errorf("peer cross-inbox code = %s", code)
	}

	// actor_update is human-only, even for the foreman.
	code = callCode(t, client, "actor_update", map[string]any{
		"group_id": gid, "actor_id": "peerA", "by": "lead",
		"patch": map[string]any{"title": "x", "enabled": true},
	})
	if code != CodePermissionDenied {
		t.Errorf("foreman actor_update code = %s", code)
	}

	// Peers cannot stop other actors; the foreman can.
	code = callCode(t, client, "actor_stop", map[string]any{
		"group_id": gid, "actor_id": "lead", "by": "peerA",
	})
	if code != CodePermissionDenied {
		t.Errorf("peer actor_stop code = %s", code)
	}
	code = callCode(t, client, "actor_stop", map[string]any{
		"group_id": gid, "actor_id": "peerA", "by": "lead",
	})
	if code != CodeActorNotRunning {
		t.Errorf("foreman actor_stop should clear permissions, code = %s", code)
	}

	// Starting actors is not a peer right, not even on itself.
	code = callCode(t, client, "actor_start", map[string]any{
		"group_id": gid, "actor_id": "peerA", "by": "peerA",
	})
	if code != CodePermissionDenied {
		t.Errorf("peer actor_start self code = %s", code)
	}

	// The foreman may remove only itself.
	code = callCode(t, client, "actor_remove", map[string]any{
		"group_id": gid, "actor_id": "peerA", "by": "lead",
	})
	if code != CodePermissionDenied {
		t.Errorf("foreman actor_remove other code = %s", code)
	}
	if err := client.CallInto("actor_remove", map[string]any{
		"group_id": gid, "actor_id": "lead", "by": "lead",
	}, nil); err != nil {
		t.Errorf("foreman actor_remove self: %v", err)
	}
}

func TestActorAddReservedID(t *testing.T) {
	client, _ := startServer(t)
	gid := seedGroup(t, client)
	code := callCode(t, client, "actor_add", map[string]any{
		"group_id": gid, "by": "user",
		"actor": map[string]any{"id": "user", "enabled": true, "runner": "headless"},
	})
	if code != CodeActorAddFailed {
		t.Errorf("reserved id code = %s", code)
	}
}

func TestGroupUseRequiresAttachedScope(t *testing.T) {
	client, _ := startServer(t)
	gid := seedGroup(t, client)
	code := callCode(t, client, "group_use", map[string]any{
		"group_id": gid, "scope_key": "s_feedfeedfeed", "by": "user",
	})
	if code != CodeScopeNotAttached {
		t.Errorf("code = %s", code)
	}
}

func TestTermAttachStoppedActor(t *testing.T) {
	client, _ := startServer(t)
	gid := seedGroup(t, client)
	_, err := client.TermAttach(gid, "peerA", "user")
	var e *Error
	if !errors.As(err, &e) || e.Code != CodeActorNotRunning {
		t.Fatalf("err = %v, want actor_not_running", err)
	}
}

func TestGroupLifecycle(t *testing.T) {
	client, layout := startServer(t)
	gid := seedGroup(t, client)

	title := "renamed"
	if err := client.CallInto("group_update", map[string]any{
		"group_id": gid, "by": "user", "title": &title,
	}, nil); err != nil {
		t.Fatalf("group_update: %v", err)
	}

	var show struct {
		Group   *group.Group `json:"group"`
		Running []string     `json:"running"`
	}
	if err := client.CallInto("group_show", map[string]any{"group_id": gid, "by": "user"}, &show); err != nil {
		t.Fatalf("group_show: %v", err)
	}
	if show.Group.Title != "renamed" || len(show.Running) != 0 {
		t.Errorf("show = %+v", show)
	}

	var set struct {
		Paused bool `json:"paused"`
	}
	if err := client.CallInto("group_set_state", map[string]any{
		"group_id": gid, "by": "user", "paused": true,
	}, &set); err != nil || !set.Paused {
		t.Fatalf("group_set_state: %+v %v", set, err)
	}

	if err := client.CallInto("group_delete", map[string]any{"group_id": gid, "by": "user"}, nil); err != nil {
		t.Fatalf("group_delete: %v", err)
	}
	if code := callCode(t, client, "group_show", map[string]any{"group_id": gid, "by": "user"}); code != CodeGroupNotFound {
		t.Errorf("post-delete code = %s", code)
	}
	if _, err := group.LoadGroup(layout.GroupFile(gid)); err == nil {
		t.Error("group dir survived delete")
	}
}

func TestGroupStartBadProjectRoot(t *testing.T) {
	client, layout := startServer(t)
	proj := t.TempDir()
	var attach struct {
		GroupID string `json:"group_id"`
	}
	if err := client.CallInto("attach", map[string]string{"path": proj, "by": "user"}, &attach); err != nil {
		t.Fatal(err)
	}
	err := client.CallInto("actor_add", map[string]any{
		"group_id": attach.GroupID, "by": "user",
		"actor": map[string]any{"id": "worker", "enabled": true, "command": []string{"cat"}},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	// Point the scope at a directory that no longer exists.
	g, err2 := group.LoadGroup(layout.GroupFile(attach.GroupID))
	if err2 != nil {
		t.Fatal(err2)
	}
	g.Scopes[0].URL = proj + "/gone"
	if err := group.SaveGroup(layout.GroupFile(attach.GroupID), g); err != nil {
		t.Fatal(err)
	}

	code := callCode(t, client, "group_start", map[string]any{"group_id": attach.GroupID, "by": "user"})
	if code != CodeInvalidProjectRoot {
		t.Errorf("code = %s", code)
	}
}

// newBareServer builds a server without the socket loop for tests that call
// op handlers and ticks directly.
func newBareServer(t *testing.T) (*Server, home.Layout, *group.Group) {
	t.Helper()
	layout := home.Layout{Root: t.TempDir()}
	srv := NewServer(layout, home.DefaultSettings(), log.New(io.Discard, "", 0), "test")
	g := group.NewGroup("crew")
	g.Actors = []*group.Actor{
		{ID: "lead", Enabled: true, Submit: "enter", Runner: "headless"},
		{ID: "peerA", Enabled: true, Submit: "enter", Runner: "headless"},
	}
	if err := group.SaveGroup(layout.GroupFile(g.GroupID), g); err != nil {
		t.Fatal(err)
	}
	if err := srv.registry.Put(srv.registryEntry(g)); err != nil {
		t.Fatal(err)
	}
	return srv, layout, g
}

func TestSendKeepaliveWithoutRunningRecipients(t *testing.T) {
	srv, _, g := newBareServer(t)

	// No recipient is running, so nothing is delivered; the sender's
	// progress line must still schedule a keep-alive.
	raw, err := json.Marshal(map[string]any{
		"group_id": g.GroupID, "by": "peerA", "to": []string{"lead"},
		"text": "Progress: parser done\nNext: wire the cache",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, e := srv.opSend(raw); e != nil {
		t.Fatalf("send: %v", e)
	}
	if !srv.keepalive.PendingFor(g.GroupID, "peerA") {
		t.Error("no keep-alive scheduled for the sender")
	}
}

func TestWeakAckOnProcessedMove(t *testing.T) {
	srv, layout, g := newBareServer(t)
	now := time.Now()

	h1 := &delivery.Handoff{MID: delivery.NewMID(), GroupID: g.GroupID, From: "lead", To: "peerA", Text: "first"}
	h2 := &delivery.Handoff{MID: delivery.NewMID(), GroupID: g.GroupID, From: "lead", To: "peerA", Text: "second"}
	srv.mailbox.Offer(h1, now)
	srv.mailbox.Offer(h2, now)

	// First tick seeds the processed watch; then the actor moves a spilled
	// inbox file into processed/ and the next tick weak-acks the handoff.
	srv.automationTick(now)
	dir := layout.ActorProcessedDir(g.GroupID, "peerA")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "000001.txt"), []byte("first"), 0o644); err != nil {
		t.Fatal(err)
	}
	srv.automationTick(now.Add(time.Second))

	if srv.mailbox.QueuedCount(g.GroupID, "peerA") != 0 {
		t.Error("queued handoff was not promoted")
	}
	if !srv.mailbox.Inflight(g.GroupID, "peerA") {
		t.Error("promoted handoff should be inflight")
	}

	// Nothing further moved, so the promoted handoff stays inflight.
	srv.automationTick(now.Add(2 * time.Second))
	if !srv.mailbox.Inflight(g.GroupID, "peerA") {
		t.Error("inflight cleared without a new processed file")
	}
}

func TestClientUnavailable(t *testing.T) {
	client := NewClient(t.TempDir() + "/nope.sock")
	_, err := client.Call("ping", nil)
	var e *Error
	if !errors.As(err, &e) || e.Code != CodeDaemonUnavailable {
		t.Fatalf("err = %v, want daemon_unavailable", err)
	}
}
