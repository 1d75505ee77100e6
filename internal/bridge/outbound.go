package bridge

import (
	"encoding/json"

	"github.com/cccc-dev/cccc/internal/ledger"
)

// Outbound is one ledger event reduced to what a subscriber sees.
type Outbound struct {
	By          string
	To          []string
	Text        string
	IsSystem    bool
	Attachments []ledger.Attachment
}

// FilterOutbound decides whether an event reaches a subscriber. User-sent
// messages never echo back; system notifies always go; chat messages go
// when verbose, broadcast, or addressed to the user.
func FilterOutbound(ev *ledger.Event, verbose bool) (*Outbound, bool) {
	if ev.By == "user" {
		return nil, false
	}
	switch ev.Kind {
	case ledger.KindSystemNotify:
		var d ledger.NotifyData
		if err := json.Unmarshal(ev.Data, &d); err != nil || d.Text == "" {
			return nil, false
		}
		return &Outbound{By: ev.By, Text: d.Text, IsSystem: true}, true
	case ledger.KindChatMessage:
		var d ledger.ChatMessageData
		if err := json.Unmarshal(ev.Data, &d); err != nil || d.Text == "" {
			return nil, false
		}
		if !verbose && !targetsUser(d.To) {
			return nil, false
		}
		return &Outbound{By: ev.By, To: d.To, Text: d.Text, Attachments: d.Attachments}, true
	default:
		return nil, false
	}
}

func targetsUser(to []string) bool {
	if len(to) == 0 {
		return true
	}
	for _, t := range to {
		if t == "user" || t == "@all" {
			return true
		}
	}
	return false
}

// pumpOutbound reads newly appended ledger events via the cursor tail and
// fans them out to active subscribers.
func (b *Bridge) pumpOutbound() {
	events, err := b.tail.Poll()
	if err != nil {
		b.Logger.Printf("outbound: tail: %v", err)
		return
	}
	if len(events) == 0 {
		return
	}
	subs, err := b.Subscribers.Active()
	if err != nil {
		b.Logger.Printf("outbound: subscribers: %v", err)
		return
	}
	if len(subs) == 0 {
		return
	}
	for _, ev := range events {
		for _, sub := range subs {
			out, ok := FilterOutbound(ev, sub.Verbose)
			if !ok {
				continue
			}
			text := b.Adapter.FormatOutbound(out.By, out.To, out.Text, out.IsSystem)
			b.limiter.WaitAndAcquire(sub.ChatID)
			if err := b.Adapter.SendMessage(sub.ChatID, text, sub.ThreadID); err != nil {
				b.Logger.Printf("outbound: send to %s: %v", sub.ChatID, err)
				continue
			}
			for i := range out.Attachments {
				att := out.Attachments[i]
				path, err := b.blobs.Open(&att)
				if err != nil {
					b.Logger.Printf("outbound: %v", err)
					continue
				}
				b.limiter.WaitAndAcquire(sub.ChatID)
				if err := b.Adapter.SendFile(sub.ChatID, path, att.Filename, "", sub.ThreadID); err != nil {
					b.Logger.Printf("outbound: send file to %s: %v", sub.ChatID, err)
				}
			}
		}
	}
}
