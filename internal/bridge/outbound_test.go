package bridge

import (
	"encoding/json"
	"testing"

	"github.com/cccc-dev/cccc/internal/ledger"
)

func chatEvent(t *testing.T, by string, to []string, text string) *ledger.Event {
	t.Helper()
	data, err := json.Marshal(&ledger.ChatMessageData{Text: text, To: to})
	if err != nil {
		t.Fatal(err)
	}
	return &ledger.Event{
		V: 1, ID: ledger.NewID(), TS: ledger.NowTS(),
		Kind: ledger.KindChatMessage, GroupID: "g_test", By: by, Data: data,
	}
}

func TestFilterOutbound(t *testing.T) {
	notifyData, _ := json.Marshal(&ledger.NotifyData{Text: "heads up"})
	notify := &ledger.Event{
		V: 1, ID: ledger.NewID(), TS: ledger.NowTS(),
		Kind: ledger.KindSystemNotify, GroupID: "g_test", By: "daemon", Data: notifyData,
	}

	tests := []struct {
		name    string
		ev      *ledger.Event
		verbose bool
		want    bool
	}{
		{"broadcast reaches user", chatEvent(t, "lead", nil, "hi"), false, true},
		{"targeted at user", chatEvent(t, "lead", []string{"user"}, "hi"), false, true},
		{"@all reaches user", chatEvent(t, "lead", []string{"@all"}, "hi"), false, true},
		{"peer traffic hidden", chatEvent(t, "lead", []string{"peerA"}, "hi"), false, false},
		{"peer traffic in verbose", chatEvent(t, "lead", []string{"peerA"}, "hi"), true, true},
		{"user echo suppressed", chatEvent(t, "user", nil, "hi"), true, false},
		{"system notify always", notify, false, true},
	}
	for _, tt := range tests {
		out, ok := FilterOutbound(tt.ev, tt.verbose)
		if ok != tt.want {
			t.Errorf("%s: forwarded = %v, want %v", tt.name, ok, tt.want)
			continue
		}
		if ok && out.Text == "" {
			t.Errorf("%s: empty text", tt.name)
		}
	}

	out, ok := FilterOutbound(notify, false)
	if !ok || !out.IsSystem || out.Text != "heads up" {
		t.Errorf("notify = %+v, %v", out, ok)
	}
}
