package main

import (
	"encoding/json"
	"testing"

	"github.com/cccc-dev/cccc/internal/ledger"
)

func TestInboxReplyDecode(t *testing.T) {
	// Shape of the daemon's inbox_list result once the actor has a cursor.
	payload, err := json.Marshal(map[string]any{
		"events": []*ledger.Event{
			{V: 1, ID: ledger.NewID(), TS: ledger.NowTS(), Kind: ledger.KindChatMessage, By: "lead"},
		},
		"cursor": &ledger.ReadCursor{EventID: "abc", TS: ledger.NowTS(), UpdatedAt: ledger.NowTS()},
	})
	if err != nil {
		t.Fatal(err)
	}
	var res inboxReply
	if err := json.Unmarshal(payload, &res); err != nil {
		t.Fatalf("decode inbox reply: %v", err)
	}
	if len(res.Events) != 1 || res.Events[0].By != "lead" {
		t.Errorf("events = %+v", res.Events)
	}
	if res.Cursor == nil || res.Cursor.EventID != "abc" {
		t.Errorf("cursor = %+v", res.Cursor)
	}
}

func TestInboxReplyDecodeNoCursor(t *testing.T) {
	// Before the first mark-read the daemon sends a null cursor.
	var res inboxReply
	if err := json.Unmarshal([]byte(`{"events":[],"cursor":null}`), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Cursor != nil || len(res.Events) != 0 {
		t.Errorf("res = %+v", res)
	}
}
