package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cccc-dev/cccc/internal/delivery"
	"github.com/cccc-dev/cccc/internal/group"
	"github.com/cccc-dev/cccc/internal/ledger"
	"github.com/cccc-dev/cccc/internal/ptysup"
)

// opTermAttach resolves the target session; the dispatcher promotes the
// connection to a raw channel after acking.
func (s *Server) opTermAttach(raw json.RawMessage) (*ptysup.Session, *Error) {
	var args actorArgs
	if e := decodeArgs(raw, &args); e != nil {
		return nil, e
	}
	g, e := s.loadGroup(args.GroupID)
	if e != nil {
		return nil, e
	}
	if g.ActorByID(args.ActorID) == nil {
		return nil, E(CodeActorNotFound, "no actor %s", args.ActorID)
	}
	sess := s.sup.Get(g.GroupID, args.ActorID)
	if sess == nil {
		return nil, E(CodeActorNotRunning, "actor %s is not running", args.ActorID)
	}
	return sess, nil
}

type termResizeArgs struct {
	GroupID string `json:"group_id"`
	ActorID string `json:"actor_id"`
	By      string `json:"by"`
	Rows    uint16 `json:"rows"`
	Cols    uint16 `json:"cols"`
}

func (s *Server) opTermResize(raw json.RawMessage) (any, *Error) {
	var args termResizeArgs
	if e := decodeArgs(raw, &args); e != nil {
		return nil, e
	}
	if args.Rows == 0 || args.Cols == 0 {
		return nil, E(CodeInvalidRequest, "rows and cols are required")
	}
	if err := s.sup.Resize(args.GroupID, args.ActorID, args.Rows, args.Cols); err != nil {
		return nil, E(CodeActorNotRunning, "%v", err)
	}
	return map[string]any{"rows": args.Rows, "cols": args.Cols}, nil
}

type inboxListArgs struct {
	GroupID string `json:"group_id"`
	ActorID string `json:"actor_id"`
	By      string `json:"by"`
	Limit   int    `json:"limit,omitempty"`
}

func (s *Server) opInboxList(raw json.RawMessage) (any, *Error) {
	var args inboxListArgs
	if e := decodeArgs(raw, &args); e != nil {
		return nil, e
	}
	if args.ActorID == "" {
		return nil, E(CodeMissingActorID, "actor_id is required")
	}
	g, e := s.loadGroup(args.GroupID)
	if e != nil {
		return nil, e
	}
	if g.ActorByID(args.ActorID) == nil {
		return nil, E(CodeActorNotFound, "no actor %s", args.ActorID)
	}
	events, err := ledger.ReadAll(s.layout.LedgerFile(g.GroupID))
	if err != nil {
		return nil, E(CodeInvalidRequest, "read ledger: %v", err)
	}
	cursors := ledger.NewCursorStore(s.layout.ReadCursorsFile(g.GroupID))
	cursor, err := cursors.Get(args.ActorID)
	if err != nil {
		return nil, E(CodeInvalidRequest, "read cursor: %v", err)
	}
	unread := group.UnreadFor(g, events, args.ActorID, cursor, args.Limit)
	return map[string]any{"events": unread, "cursor": cursor}, nil
}

type markReadArgs struct {
	GroupID string `json:"group_id"`
	ActorID string `json:"actor_id"`
	By      string `json:"by"`
	EventID string `json:"event_id"`
}

func (s *Server) opInboxMarkRead(raw json.RawMessage) (any, *Error) {
	var args markReadArgs
	if e := decodeArgs(raw, &args); e != nil {
		return nil, e
	}
	if args.ActorID == "" {
		return nil, E(CodeMissingActorID, "actor_id is required")
	}
	if args.EventID == "" {
		return nil, E(CodeMissingEventID, "event_id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, e := s.loadGroup(args.GroupID)
	if e != nil {
		return nil, e
	}
	if g.ActorByID(args.ActorID) == nil {
		return nil, E(CodeActorNotFound, "no actor %s", args.ActorID)
	}
	ev, err := ledger.FindByID(s.layout.LedgerFile(g.GroupID), args.EventID)
	if err != nil {
		return nil, E(CodeInvalidRequest, "read ledger: %v", err)
	}
	if ev == nil {
		return nil, E(CodeEventNotFound, "no event %s", args.EventID)
	}
	cursors := ledger.NewCursorStore(s.layout.ReadCursorsFile(g.GroupID))
	if err := cursors.Advance(args.ActorID, ev.ID, ev.TS); err != nil {
		return nil, E(CodeInvalidRequest, "advance cursor: %v", err)
	}
	if _, err := s.appendEvent(g.GroupID, ledger.KindChatRead, "", args.ActorID, &ledger.ChatReadData{
		ActorID: args.ActorID,
		EventID: ev.ID,
		EventTS: ev.TS,
	}); err != nil {
		s.logger.Printf("inbox_mark_read: append: %v", err)
	}
	cursor, _ := cursors.Get(args.ActorID)
	return map[string]any{"cursor": cursor}, nil
}

type sendArgs struct {
	GroupID   string   `json:"group_id"`
	By        string   `json:"by"`
	Text      string   `json:"text"`
	Format    string   `json:"format,omitempty"`
	To        []string `json:"to,omitempty"`
	ReplyTo   string   `json:"reply_to,omitempty"`
	QuoteText string   `json:"quote_text,omitempty"`
	ClientID  string   `json:"client_id,omitempty"`

	Attachments []ledger.Attachment `json:"attachments,omitempty"`
}

func validRecipient(g *group.Group, tok string) bool {
	switch tok {
	case group.ToAll, group.ToPeers, group.ToForeman, "user":
		return true
	}
	if g.ActorByID(tok) != nil || g.ActorByTitle(tok) != nil {
		return true
	}
	return false
}

// opSend appends the chat.message, best-effort delivers it into targeted
// running PTYs, and feeds automation and back-pressure.
func (s *Server) opSend(raw json.RawMessage) (any, *Error) {
	var args sendArgs
	if e := decodeArgs(raw, &args); e != nil {
		return nil, e
	}
	if args.Text == "" {
		return nil, E(CodeMissingText, "text is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, e := s.loadGroup(args.GroupID)
	if e != nil {
		return nil, e
	}
	for _, tok := range args.To {
		if !validRecipient(g, tok) {
			return nil, E(CodeActorNotFound, "unknown recipient %q", tok)
		}
	}
	data := &ledger.ChatMessageData{
		Text:      args.Text,
		Format:    args.Format,
		To:        args.To,
		ReplyTo:   args.ReplyTo,
		QuoteText: args.QuoteText,
		ClientID:  args.ClientID,

		Attachments: args.Attachments,
	}
	ev, err := s.appendEvent(g.GroupID, ledger.KindChatMessage, g.ActiveScopeKey, args.By, data)
	if err != nil {
		return nil, E(CodeInvalidRequest, "append chat.message: %v", err)
	}

	now := time.Now()

	// A reply from an actor may strong-ack its inflight handoff.
	if g.ActorByID(args.By) != nil {
		if next := s.mailbox.Ack(g.GroupID, args.By, args.Text, now); next != nil {
			s.redeliverHandoff(next)
		}
	}

	rendered := delivery.Render(args.By, data)
	var delivered, queued []string
	for _, aid := range group.ResolveRecipients(g, args.By, data.To) {
		if s.sup.Get(g.GroupID, aid) == nil {
			continue // not running; the message waits in the inbox
		}
		h := &delivery.Handoff{
			MID:     delivery.NewMID(),
			GroupID: g.GroupID,
			From:    args.By,
			To:      aid,
		}
		h.Text = rendered + " [" + h.MID + "]"
		if !s.mailbox.Offer(h, now) {
			queued = append(queued, aid)
			continue
		}
		if err := s.deliverer.DeliverSystem(g, aid, h.Text); err != nil {
			s.logger.Printf("send[%s/%s]: %v", g.GroupID, aid, err)
			continue
		}
		delivered = append(delivered, aid)
		s.automation.RecordHandoff(g, args.By)
	}
	// Keep-alive watches every actor send, including ones whose recipients
	// are all queued or stopped.
	if g.ActorByID(args.By) != nil {
		s.keepalive.Observe(g, args.By, args.Text, now)
	}
	return map[string]any{
		"event_id":  ev.ID,
		"ts":        ev.TS,
		"delivered": delivered,
		"queued":    queued,
	}, nil
}

type ledgerTailArgs struct {
	GroupID string `json:"group_id"`
	By      string `json:"by"`
	N       int    `json:"n,omitempty"`
}

func (s *Server) opLedgerTail(raw json.RawMessage) (any, *Error) {
	var args ledgerTailArgs
	if e := decodeArgs(raw, &args); e != nil {
		return nil, e
	}
	g, e := s.loadGroup(args.GroupID)
	if e != nil {
		return nil, e
	}
	n := args.N
	if n <= 0 {
		n = 20
	}
	events, err := ledger.ReadLast(s.layout.LedgerFile(g.GroupID), n)
	if err != nil {
		return nil, E(CodeInvalidRequest, "read ledger: %v", err)
	}
	return map[string]any{"events": events}, nil
}

func (s *Server) opLedgerSnapshot(raw json.RawMessage) (any, *Error) {
	var args commonArgs
	if e := decodeArgs(raw, &args); e != nil {
		return nil, e
	}
	g, e := s.loadGroup(args.GroupID)
	if e != nil {
		return nil, e
	}
	snap, err := s.compactor(g).WriteSnapshot()
	if err != nil {
		return nil, E(CodeLedgerSnapshotFailed, "%v", err)
	}
	return map[string]any{"snapshot": snap}, nil
}

type compactArgs struct {
	GroupID string `json:"group_id"`
	By      string `json:"by"`
	Force   bool   `json:"force,omitempty"`
}

func (s *Server) opLedgerCompact(raw json.RawMessage) (any, *Error) {
	var args compactArgs
	if e := decodeArgs(raw, &args); e != nil {
		return nil, e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, e := s.loadGroup(args.GroupID)
	if e != nil {
		return nil, e
	}
	record, err := s.compactor(g).Compact(args.Force)
	if err != nil {
		return nil, E(CodeLedgerCompactFailed, "%v", err)
	}
	return map[string]any{"compaction": record}, nil
}

type contextGetArgs struct {
	GroupID string `json:"group_id"`
	By      string `json:"by"`
	Name    string `json:"name,omitempty"`
}

// opContextGet serves the group's context files read-only; the IM /context
// command renders them.
func (s *Server) opContextGet(raw json.RawMessage) (any, *Error) {
	var args contextGetArgs
	if e := decodeArgs(raw, &args); e != nil {
		return nil, e
	}
	g, e := s.loadGroup(args.GroupID)
	if e != nil {
		return nil, e
	}
	dir := s.layout.ContextDir(g.GroupID)
	if args.Name != "" {
		name := filepath.Base(args.Name) // no path escapes
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, E(CodeEventNotFound, "no context file %s", name)
		}
		return map[string]any{"name": name, "content": string(data)}, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{"files": []string{}}, nil
		}
		return nil, E(CodeInvalidRequest, "read context dir: %v", err)
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return map[string]any{"files": names}, nil
}

// systemPrompt renders the orientation message injected after spawn and on
// the refresh cadence.
func systemPrompt(g *group.Group, aid string) string {
	var peers []string
	for _, a := range g.Actors {
		if a.Enabled && a.ID != aid {
			peers = append(peers, a.ID)
		}
	}
	role := g.EffectiveRole(aid)
	var b strings.Builder
	fmt.Fprintf(&b, "%sSYSTEM: you are %s (%s) in group %q.", delivery.Prefix, aid, role, g.Title)
	if g.Topic != "" {
		fmt.Fprintf(&b, " Topic: %s.", g.Topic)
	}
	if len(peers) > 0 {
		fmt.Fprintf(&b, " Peers: %s.", strings.Join(peers, ", "))
	}
	fmt.Fprintf(&b, " Send with: cccc send --group-id %s --by %s --text <msg>; check inbox with: cccc inbox --actor-id %s --by %s", g.GroupID, aid, aid, aid)
	return b.String()
}
