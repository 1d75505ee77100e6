// Package ledger implements the append-only per-group event log, read
// cursors, inbox sequencing, and retention.
package ledger

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event kinds. Unknown kinds pass validation unchanged for forward
// compatibility; the kinds below have their data shape checked on append.
const (
	KindGroupCreate   = "group.create"
	KindGroupAttach   = "group.attach"
	KindGroupDetach   = "group.detach"
	KindGroupUpdate   = "group.update"
	KindGroupStart    = "group.start"
	KindGroupStop     = "group.stop"
	KindGroupDelete   = "group.delete"
	KindActorAdd      = "actor.add"
	KindActorRemove   = "actor.remove"
	KindActorUpdate   = "actor.update"
	KindActorStart    = "actor.start"
	KindActorStop     = "actor.stop"
	KindChatMessage   = "chat.message"
	KindChatRead      = "chat.read"
	KindChatAck       = "chat.ack"
	KindChatReaction  = "chat.reaction"
	KindSystemNotify  = "system.notify"
	KindNotifyAck     = "system.notify_ack"
	KindContextSync   = "context.sync"
)

// Event is one line of ledger.jsonl.
type Event struct {
	V        int             `json:"v"`
	ID       string          `json:"id"`
	TS       string          `json:"ts"`
	Kind     string          `json:"kind"`
	GroupID  string          `json:"group_id"`
	ScopeKey string          `json:"scope_key,omitempty"`
	By       string          `json:"by"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// Time parses the event timestamp. Zero time on malformed input.
func (e *Event) Time() time.Time {
	t, err := time.Parse(time.RFC3339Nano, e.TS)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Attachment describes one stored blob referenced by a chat message.
type Attachment struct {
	SHA256   string `json:"sha256"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Path     string `json:"path,omitempty"`
	MIME     string `json:"mime,omitempty"`
}

// ChatMessageData is the data payload of a chat.message event.
type ChatMessageData struct {
	Text        string       `json:"text"`
	Format      string       `json:"format,omitempty"` // plain | markdown
	To          []string     `json:"to"`
	ReplyTo     string       `json:"reply_to,omitempty"`
	QuoteText   string       `json:"quote_text,omitempty"`
	Refs        []string     `json:"refs,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ClientID    string       `json:"client_id,omitempty"`
}

// ChatReadData is the data payload of a chat.read event.
type ChatReadData struct {
	ActorID string `json:"actor_id"`
	EventID string `json:"event_id"`
	EventTS string `json:"event_ts"`
}

// NotifyData is the data payload of a system.notify event.
type NotifyData struct {
	Text string `json:"text"`
	Tag  string `json:"tag,omitempty"`
}

// NewID returns a fresh event id (uuid hex, no dashes).
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NowTS returns the canonical UTC timestamp string for new events.
func NowTS() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// validateData normalizes and checks the data payload for known kinds. The
// returned raw message is what gets persisted.
func validateData(kind string, data any) (json.RawMessage, error) {
	switch kind {
	case KindChatMessage:
		d, err := coerce[ChatMessageData](data)
		if err != nil {
			return nil, fmt.Errorf("chat.message data: %w", err)
		}
		if d.Text == "" {
			return nil, fmt.Errorf("chat.message data: empty text")
		}
		switch d.Format {
		case "", "plain", "markdown":
		default:
			return nil, fmt.Errorf("chat.message data: bad format %q", d.Format)
		}
		if d.Format == "" {
			d.Format = "plain"
		}
		if d.To == nil {
			d.To = []string{}
		}
		return json.Marshal(d)
	case KindChatRead:
		d, err := coerce[ChatReadData](data)
		if err != nil {
			return nil, fmt.Errorf("chat.read data: %w", err)
		}
		if d.ActorID == "" || d.EventID == "" {
			return nil, fmt.Errorf("chat.read data: actor_id and event_id required")
		}
		return json.Marshal(d)
	case KindSystemNotify:
		d, err := coerce[NotifyData](data)
		if err != nil {
			return nil, fmt.Errorf("system.notify data: %w", err)
		}
		if d.Text == "" {
			return nil, fmt.Errorf("system.notify data: empty text")
		}
		return json.Marshal(d)
	default:
		if data == nil {
			return nil, nil
		}
		return json.Marshal(data)
	}
}

// coerce converts an arbitrary value (typed struct or decoded map) into T
// via a JSON round trip with unknown fields rejected for maps.
func coerce[T any](data any) (T, error) {
	var out T
	if v, ok := data.(T); ok {
		return v, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return out, err
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}
