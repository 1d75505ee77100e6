package delivery

import (
	"log"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cccc-dev/cccc/internal/group"
)

// Progress/Next markers in peer messages drive the keep-alive reminder.
var (
	progressLineRe = regexp.MustCompile(`^\s*(?:[-*]\s*)?Progress\s*(?:\(|:)`)
	nextLineRe     = regexp.MustCompile(`^\s*(?:[-*]\s*)?Next\s*(?:\(|:)\s*(.+)$`)
)

// Keep-alive delay bounds when the group does not configure one.
const (
	keepaliveDelayMin = 60
	keepaliveDelayMax = 120
)

type pendingKeepalive struct {
	groupID string
	actorID string
	due     time.Time
	hint    string
}

// Keepalive schedules delayed "continue" reminders back to actors that
// posted a Progress line, and suppresses them when the actor already has
// work in motion.
type Keepalive struct {
	Deliverer *Deliverer
	Logger    *log.Logger

	// Busy reports whether the actor has unread inbox items or any
	// in-flight or queued handoff; busy actors are not reminded.
	Busy func(gid, aid string) bool

	mu      sync.Mutex
	pending []pendingKeepalive
}

// HasProgressLine reports whether the message body carries a progress
// marker.
func HasProgressLine(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		if progressLineRe.MatchString(line) {
			return true
		}
	}
	return false
}

// NextHint returns the last "Next:" line's content, or "".
func NextHint(text string) string {
	hint := ""
	for _, line := range strings.Split(text, "\n") {
		if m := nextLineRe.FindStringSubmatch(line); m != nil {
			hint = strings.TrimSpace(m[1])
		}
	}
	return hint
}

// Observe inspects a delivered peer message and schedules a reminder for
// the sender when it contains a progress line.
func (k *Keepalive) Observe(g *group.Group, by, text string, now time.Time) {
	if g.ActorByID(by) == nil || !HasProgressLine(text) {
		return
	}
	delay := g.Automation.KeepaliveDelaySeconds
	if delay <= 0 {
		delay = keepaliveDelayMin + rand.Intn(keepaliveDelayMax-keepaliveDelayMin+1)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	// One pending reminder per actor; a newer progress line supersedes it.
	for i := range k.pending {
		if k.pending[i].groupID == g.GroupID && k.pending[i].actorID == by {
			k.pending[i].due = now.Add(time.Duration(delay) * time.Second)
			k.pending[i].hint = NextHint(text)
			return
		}
	}
	k.pending = append(k.pending, pendingKeepalive{
		groupID: g.GroupID,
		actorID: by,
		due:     now.Add(time.Duration(delay) * time.Second),
		hint:    NextHint(text),
	})
}

// Dispatch fires every due reminder. lookupGroup resolves a group id to its
// current document; nil drops the reminder.
func (k *Keepalive) Dispatch(now time.Time, lookupGroup func(gid string) *group.Group) {
	k.mu.Lock()
	var due []pendingKeepalive
	var keep []pendingKeepalive
	for _, p := range k.pending {
		if p.due.After(now) {
			keep = append(keep, p)
		} else {
			due = append(due, p)
		}
	}
	k.pending = keep
	k.mu.Unlock()

	for _, p := range due {
		g := lookupGroup(p.groupID)
		if g == nil {
			continue
		}
		if k.Busy != nil && k.Busy(p.groupID, p.actorID) {
			continue
		}
		msg := Prefix + "keepalive: continue"
		if p.hint != "" {
			msg += ": " + p.hint
		}
		if err := k.Deliverer.DeliverSystem(g, p.actorID, msg); err != nil {
			k.Logger.Printf("keepalive[%s/%s]: %v", p.groupID, p.actorID, err)
		}
	}
}

// PendingFor reports whether the actor has a scheduled reminder; used by
// status output and tests.
func (k *Keepalive) PendingFor(gid, aid string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, p := range k.pending {
		if p.groupID == gid && p.actorID == aid {
			return true
		}
	}
	return false
}
