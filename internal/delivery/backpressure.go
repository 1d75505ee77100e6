package delivery

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Back-pressure defaults; per-group delivery config overrides them.
const (
	DefaultAckTimeoutSeconds = 30
	DefaultResendAttempts    = 2
)

// Handoff is one tracked delivery awaiting acknowledgement.
type Handoff struct {
	MID      string
	GroupID  string
	From     string
	To       string
	Text     string
	Attempts int
	SentAt   time.Time
}

// NewMID returns a fresh handoff token. Receivers echo it to ack.
func NewMID() string {
	return "MID-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Mailbox tracks at most one in-flight handoff per receiver plus a FIFO of
// queued ones, with timeout-driven resend and a drop cap.
type Mailbox struct {
	AckTimeout     time.Duration
	ResendAttempts int
	Logger         *log.Logger

	mu       sync.Mutex
	inflight map[string]*Handoff   // gid/aid → handoff
	queued   map[string][]*Handoff // gid/aid → FIFO
}

func NewMailbox(ackTimeout time.Duration, resendAttempts int, logger *log.Logger) *Mailbox {
	if ackTimeout <= 0 {
		ackTimeout = DefaultAckTimeoutSeconds * time.Second
	}
	if resendAttempts <= 0 {
		resendAttempts = DefaultResendAttempts
	}
	return &Mailbox{
		AckTimeout:     ackTimeout,
		ResendAttempts: resendAttempts,
		Logger:         logger,
		inflight:       make(map[string]*Handoff),
		queued:         make(map[string][]*Handoff),
	}
}

func mailboxKey(gid, aid string) string { return gid + "/" + aid }

// Offer registers a handoff for a receiver. Returns true when the caller
// should deliver it now; false means another handoff is in flight and this
// one was queued.
func (m *Mailbox) Offer(h *Handoff, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := mailboxKey(h.GroupID, h.To)
	if _, busy := m.inflight[key]; busy {
		m.queued[key] = append(m.queued[key], h)
		m.Logger.Printf("handoff-queued %s for %s (from %s)", h.MID, h.To, h.From)
		return false
	}
	h.SentAt = now
	h.Attempts = 1
	m.inflight[key] = h
	return true
}

// Ack clears the in-flight handoff when the receiver's reply contains its
// MID token (strong ack). Returns the next queued handoff to deliver, if
// any.
func (m *Mailbox) Ack(gid, aid, reply string, now time.Time) *Handoff {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := mailboxKey(gid, aid)
	h, ok := m.inflight[key]
	if !ok || !strings.Contains(reply, h.MID) {
		return nil
	}
	return m.clearAndPromote(key, now)
}

// AckWeak clears the in-flight handoff unconditionally; used when an inbox
// file was observed moving to processed/.
func (m *Mailbox) AckWeak(gid, aid string, now time.Time) *Handoff {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := mailboxKey(gid, aid)
	if _, ok := m.inflight[key]; !ok {
		return nil
	}
	return m.clearAndPromote(key, now)
}

// caller holds m.mu
func (m *Mailbox) clearAndPromote(key string, now time.Time) *Handoff {
	delete(m.inflight, key)
	q := m.queued[key]
	if len(q) == 0 {
		return nil
	}
	next := q[0]
	m.queued[key] = q[1:]
	next.SentAt = now
	next.Attempts = 1
	m.inflight[key] = next
	return next
}

// Expire scans in-flight handoffs: entries unacked past the timeout are
// returned for redelivery while under the attempt cap, or dropped past it.
// Dropped handoffs come back separately so the caller can record them; a
// dropped receiver's next queued handoff joins resend.
func (m *Mailbox) Expire(now time.Time) (resend, dropped []*Handoff) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, h := range m.inflight {
		if now.Sub(h.SentAt) < m.AckTimeout {
			continue
		}
		if h.Attempts < m.ResendAttempts {
			h.Attempts++
			h.SentAt = now
			resend = append(resend, h)
			continue
		}
		m.Logger.Printf("handoff-timeout-drop %s for %s after %d attempts", h.MID, h.To, h.Attempts)
		dropped = append(dropped, h)
		if next := m.clearAndPromote(key, now); next != nil {
			resend = append(resend, next)
		}
	}
	return resend, dropped
}

// Inflight reports whether a receiver has an unacked handoff.
func (m *Mailbox) Inflight(gid, aid string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.inflight[mailboxKey(gid, aid)]
	return ok
}

// QueuedCount returns the receiver's queue depth.
func (m *Mailbox) QueuedCount(gid, aid string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queued[mailboxKey(gid, aid)])
}

// Busy reports in-flight or queued work for a receiver; keep-alive uses it
// for suppression.
func (m *Mailbox) Busy(gid, aid string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := mailboxKey(gid, aid)
	if _, ok := m.inflight[key]; ok {
		return true
	}
	return len(m.queued[key]) > 0
}

// String renders a short mailbox summary for status output.
func (m *Mailbox) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	queued := 0
	for _, q := range m.queued {
		queued += len(q)
	}
	return fmt.Sprintf("inflight=%d queued=%d", len(m.inflight), queued)
}
