package delivery

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/cccc-dev/cccc/internal/fsutil"
	"github.com/cccc-dev/cccc/internal/group"
	"github.com/cccc-dev/cccc/internal/home"
	"github.com/cccc-dev/cccc/internal/ledger"
)

// Automation defaults; per-group config overrides them.
const (
	DefaultNudgeAfterSeconds            = 300
	DefaultSelfCheckEveryHandoffs       = 6
	DefaultSystemRefreshEverySelfChecks = 3
)

// ActorAutomation is the persisted per-actor counter block in
// state/automation.json.
type ActorAutomation struct {
	HandoffCount     int    `json:"handoff_count"`
	SelfCheckCount   int    `json:"self_check_count"`
	LastNudgeEventID string `json:"last_nudge_event_id,omitempty"`
	LastNudgeAt      string `json:"last_nudge_at,omitempty"`
}

type automationDoc struct {
	V      int                         `json:"v"`
	Actors map[string]*ActorAutomation `json:"actors"`
}

// Automation drives the nudge and self-check cadence for one daemon. State
// is persisted per group so counters survive restarts.
type Automation struct {
	Layout    home.Layout
	Deliverer *Deliverer
	Logger    *log.Logger

	// SystemPrompt renders the SYSTEM prompt for re-injection on the
	// system-refresh cadence. Nil disables refresh.
	SystemPrompt func(g *group.Group, aid string) string

	mu   sync.Mutex
	docs map[string]*automationDoc
}

func (am *Automation) doc(gid string) *automationDoc {
	if am.docs == nil {
		am.docs = make(map[string]*automationDoc)
	}
	if d, ok := am.docs[gid]; ok {
		return d
	}
	d := &automationDoc{V: 1, Actors: make(map[string]*ActorAutomation)}
	if err := fsutil.ReadJSON(am.Layout.AutomationFile(gid), d); err != nil && !os.IsNotExist(err) {
		am.Logger.Printf("automation[%s]: reading state: %v", gid, err)
	}
	if d.Actors == nil {
		d.Actors = make(map[string]*ActorAutomation)
	}
	am.docs[gid] = d
	return d
}

func (am *Automation) save(gid string) {
	if err := fsutil.AtomicWriteJSON(am.Layout.AutomationFile(gid), am.docs[gid]); err != nil {
		am.Logger.Printf("automation[%s]: writing state: %v", gid, err)
	}
}

func (am *Automation) actor(gid, aid string) *ActorAutomation {
	d := am.doc(gid)
	a, ok := d.Actors[aid]
	if !ok {
		a = &ActorAutomation{}
		d.Actors[aid] = a
	}
	return a
}

// RecordHandoff bumps the sender's handoff counter and fires the self-check
// and system-refresh cadences when due.
func (am *Automation) RecordHandoff(g *group.Group, by string) {
	if g.ActorByID(by) == nil {
		return
	}
	am.mu.Lock()
	defer am.mu.Unlock()
	st := am.actor(g.GroupID, by)
	st.HandoffCount++
	every := g.Automation.SelfCheckEveryHandoffs
	if every == 0 {
		every = DefaultSelfCheckEveryHandoffs
	}
	if every > 0 && st.HandoffCount%every == 0 {
		st.SelfCheckCount++
		msg := Prefix + "SELF-CHECK: reply in 3 bullets — (1) what changed, (2) next step, (3) blocker/decision."
		if err := am.Deliverer.DeliverSystem(g, by, msg); err != nil {
			am.Logger.Printf("automation[%s/%s]: self-check: %v", g.GroupID, by, err)
		}
		refresh := g.Automation.SystemRefreshEverySelfChecks
		if refresh == 0 {
			refresh = DefaultSystemRefreshEverySelfChecks
		}
		if refresh > 0 && st.SelfCheckCount%refresh == 0 && am.SystemPrompt != nil {
			if prompt := am.SystemPrompt(g, by); prompt != "" {
				if err := am.Deliverer.DeliverSystem(g, by, prompt); err != nil {
					am.Logger.Printf("automation[%s/%s]: system refresh: %v", g.GroupID, by, err)
				}
			}
		}
	}
	am.save(g.GroupID)
}

// TickNudges checks every enabled actor of the group for a stale oldest
// unread message and nudges once per event id.
func (am *Automation) TickNudges(g *group.Group, events []*ledger.Event, cursors *ledger.CursorStore, now time.Time) {
	after := g.Automation.NudgeAfterSeconds
	if after == 0 {
		after = DefaultNudgeAfterSeconds
	}
	if after < 0 {
		return
	}
	am.mu.Lock()
	defer am.mu.Unlock()
	changed := false
	for _, a := range g.Actors {
		if !a.Enabled {
			continue
		}
		cursor, err := cursors.Get(a.ID)
		if err != nil {
			continue
		}
		oldest := group.OldestUnread(g, events, a.ID, cursor)
		if oldest == nil {
			continue
		}
		ts := oldest.Time()
		if ts.IsZero() || now.Sub(ts) < time.Duration(after)*time.Second {
			continue
		}
		st := am.actor(g.GroupID, a.ID)
		if st.LastNudgeEventID == oldest.ID {
			continue
		}
		msg := fmt.Sprintf("%sNUDGE: unread message waiting (oldest %s). Run: cccc inbox --actor-id %s --by %s --mark-read",
			Prefix, oldest.TS, a.ID, a.ID)
		if err := am.Deliverer.DeliverSystem(g, a.ID, msg); err != nil {
			am.Logger.Printf("automation[%s/%s]: nudge: %v", g.GroupID, a.ID, err)
			continue
		}
		st.LastNudgeEventID = oldest.ID
		st.LastNudgeAt = now.UTC().Format(time.RFC3339Nano)
		changed = true
	}
	if changed {
		am.save(g.GroupID)
	}
}

// State returns a copy of one actor's counters, for status reporting.
func (am *Automation) State(gid, aid string) ActorAutomation {
	am.mu.Lock()
	defer am.mu.Unlock()
	return *am.actor(gid, aid)
}
