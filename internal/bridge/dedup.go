package bridge

import (
	"sync"
	"time"
)

const dedupTTL = time.Hour

// Dedup drops replayed messages: stream SDKs redeliver on reconnect, so the
// first (conversation, message) pair wins and later copies are ignored.
// Entries age out after an hour.
type Dedup struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func NewDedup() *Dedup {
	return &Dedup{seen: make(map[string]time.Time)}
}

// Seen records the pair and reports whether it was already present.
func (d *Dedup) Seen(conversationID, messageID string) bool {
	key := conversationID + ":" + messageID
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, at := range d.seen {
		if now.Sub(at) > dedupTTL {
			delete(d.seen, k)
		}
	}
	if _, ok := d.seen[key]; ok {
		return true
	}
	d.seen[key] = now
	return false
}
