package group

import (
	"encoding/json"
	"time"

	"github.com/cccc-dev/cccc/internal/ledger"
)

// Recipient tokens resolved against the group at delivery time.
const (
	ToAll     = "@all"
	ToPeers   = "@peers"
	ToForeman = "@foreman"
)

// IsMessageForActor applies the targeting rule: broadcast (empty to[]) and
// @all include everyone; an exact id or @title match includes that actor;
// @peers and @foreman match by positional role.
func IsMessageForActor(g *Group, actorID string, to []string) bool {
	if len(to) == 0 {
		return true
	}
	role := g.EffectiveRole(actorID)
	actor := g.ActorByID(actorID)
	for _, tok := range to {
		switch tok {
		case ToAll:
			return true
		case actorID:
			return true
		case ToPeers:
			if role == RolePeer {
				return true
			}
		case ToForeman:
			if role == RoleForeman {
				return true
			}
		default:
			if actor != nil && actor.Title != "" && tok == actor.Title {
				return true
			}
		}
	}
	return false
}

// ResolveRecipients expands recipient tokens to concrete enabled actor ids,
// excluding the sender. Empty to[] falls back to the group's default send
// policy, then to broadcast.
func ResolveRecipients(g *Group, by string, to []string) []string {
	if len(to) == 0 {
		to = g.Messaging.DefaultSendTo
	}
	var out []string
	for _, a := range g.Actors {
		if !a.Enabled || a.ID == by {
			continue
		}
		if IsMessageForActor(g, a.ID, to) {
			out = append(out, a.ID)
		}
	}
	return out
}

// UnreadFor returns up to limit chat.message events unread by the actor:
// not sent by it, targeting it, and newer than its read cursor.
func UnreadFor(g *Group, events []*ledger.Event, actorID string, cursor *ledger.ReadCursor, limit int) []*ledger.Event {
	var cursorT time.Time
	if cursor != nil {
		if t, err := time.Parse(time.RFC3339Nano, cursor.TS); err == nil {
			cursorT = t
		}
	}
	var out []*ledger.Event
	for _, ev := range events {
		if ev.Kind != ledger.KindChatMessage || ev.By == actorID {
			continue
		}
		var data ledger.ChatMessageData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			continue
		}
		if !IsMessageForActor(g, actorID, data.To) {
			continue
		}
		if !cursorT.IsZero() {
			if t := ev.Time(); t.IsZero() || !t.After(cursorT) {
				continue
			}
		}
		out = append(out, ev)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// OldestUnread returns the single oldest unread message for an actor, or nil.
func OldestUnread(g *Group, events []*ledger.Event, actorID string, cursor *ledger.ReadCursor) *ledger.Event {
	got := UnreadFor(g, events, actorID, cursor, 1)
	if len(got) == 0 {
		return nil
	}
	return got[0]
}
