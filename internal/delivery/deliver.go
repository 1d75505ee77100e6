package delivery

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/cccc-dev/cccc/internal/fsutil"
	"github.com/cccc-dev/cccc/internal/group"
	"github.com/cccc-dev/cccc/internal/home"
	"github.com/cccc-dev/cccc/internal/ledger"
)

// Terminal is the slice of a pty session that delivery needs.
type Terminal interface {
	WriteInput(payload []byte) error
	BracketedPaste() bool
}

// Deliverer injects chat messages and system lines into running actor
// terminals. Lookup resolves an actor to its live terminal; nil means the
// actor is not running and the message stays in the inbox only.
type Deliverer struct {
	Layout home.Layout
	Lookup func(gid, aid string) Terminal
	Logger *log.Logger
}

// DeliverEvent pushes one chat.message event to every targeted running
// actor except the sender. Returns the ids of actors that received it;
// failures are best-effort and logged, never fatal.
func (d *Deliverer) DeliverEvent(g *group.Group, ev *ledger.Event, data *ledger.ChatMessageData) []string {
	rendered := Render(ev.By, data)
	var delivered []string
	for _, a := range g.Actors {
		if !a.Enabled || a.ID == ev.By {
			continue
		}
		if !group.IsMessageForActor(g, a.ID, data.To) {
			continue
		}
		if err := d.deliverText(g, a, rendered); err != nil {
			d.Logger.Printf("deliver[%s/%s]: %v", g.GroupID, a.ID, err)
			continue
		}
		delivered = append(delivered, a.ID)
	}
	return delivered
}

// DeliverSystem injects a single-line system message into one actor.
func (d *Deliverer) DeliverSystem(g *group.Group, aid, text string) error {
	a := g.ActorByID(aid)
	if a == nil {
		return fmt.Errorf("unknown actor %s", aid)
	}
	return d.deliverText(g, a, text)
}

func (d *Deliverer) deliverText(g *group.Group, a *group.Actor, rendered string) error {
	term := d.Lookup(g.GroupID, a.ID)
	if term == nil {
		return fmt.Errorf("actor not running")
	}
	spill, err := d.spillPath(g, a, rendered, term)
	if err != nil {
		return err
	}
	payload, err := EncodePayload(rendered, term.BracketedPaste(), g.Delivery.MultilineFallback, spill, writeSpillFile)
	if err != nil {
		return err
	}
	payload = append(payload, SubmitSuffix(a.Submit)...)
	return term.WriteInput(payload)
}

// spillPath names the inbox file a multi-line body would spill to. Spill
// files are sequence-numbered per actor so an unread one is never
// overwritten; the counter is only advanced when a spill is actually coming.
// The processed/ sibling is created alongside so the actor has somewhere to
// move consumed files (the weak-ack signal).
func (d *Deliverer) spillPath(g *group.Group, a *group.Actor, rendered string, term Terminal) (string, error) {
	dir := d.Layout.ActorInboxDir(g.GroupID, a.ID)
	willSpill := strings.Contains(rendered, "\n") &&
		!term.BracketedPaste() &&
		g.Delivery.MultilineFallback != FallbackEscape
	if !willSpill {
		return filepath.Join(dir, "pending.txt"), nil
	}
	if err := os.MkdirAll(d.Layout.ActorProcessedDir(g.GroupID, a.ID), 0o755); err != nil {
		return "", err
	}
	seq, err := ledger.NextSeq(d.Layout.InboxSeqFile(g.GroupID, a.ID), dir)
	if err != nil {
		return "", fmt.Errorf("allocate spill seq: %w", err)
	}
	return filepath.Join(dir, ledger.FormatSeq(seq)+".txt"), nil
}

func writeSpillFile(path, text string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return fsutil.AtomicWriteText(path, text)
}
