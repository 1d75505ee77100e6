package ledger

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cccc-dev/cccc/internal/fsutil"
)

// ReadCursor marks the last event an actor has acknowledged reading.
type ReadCursor struct {
	EventID   string `json:"event_id"`
	TS        string `json:"ts"`
	UpdatedAt string `json:"updated_at"`
}

// CursorStore persists per-actor read cursors in read_cursors.json.
// Writes are serialized; advancing is monotonic in event ts.
type CursorStore struct {
	path string
	mu   sync.Mutex
}

// NewCursorStore returns a store over the given file path.
func NewCursorStore(path string) *CursorStore {
	return &CursorStore{path: path}
}

// Get returns the cursor for actorID, or nil when none exists.
func (s *CursorStore) Get(actorID string) (*ReadCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cursors, err := s.load()
	if err != nil {
		return nil, err
	}
	c, ok := cursors[actorID]
	if !ok {
		return nil, nil
	}
	out := c
	return &out, nil
}

// All returns every actor's cursor.
func (s *CursorStore) All() (map[string]ReadCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Advance moves actorID's cursor to the given event. Moves that would go
// backward in ts are ignored, keeping the cursor monotonic.
func (s *CursorStore) Advance(actorID, eventID, eventTS string) error {
	newT, err := time.Parse(time.RFC3339Nano, eventTS)
	if err != nil {
		return fmt.Errorf("bad cursor ts %q: %w", eventTS, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cursors, err := s.load()
	if err != nil {
		return err
	}
	if cur, ok := cursors[actorID]; ok {
		if curT, perr := time.Parse(time.RFC3339Nano, cur.TS); perr == nil && curT.After(newT) {
			return nil
		}
	}
	cursors[actorID] = ReadCursor{
		EventID:   eventID,
		TS:        eventTS,
		UpdatedAt: NowTS(),
	}
	return fsutil.AtomicWriteJSON(s.path, cursors)
}

// SafeCursorTS returns the minimum ts across all cursors, the point below
// which every actor has read. Empty string when no cursors exist.
func (s *CursorStore) SafeCursorTS() (string, error) {
	cursors, err := s.All()
	if err != nil {
		return "", err
	}
	min := ""
	var minT time.Time
	for _, c := range cursors {
		t, err := time.Parse(time.RFC3339Nano, c.TS)
		if err != nil {
			continue
		}
		if min == "" || t.Before(minT) {
			min, minT = c.TS, t
		}
	}
	return min, nil
}

func (s *CursorStore) load() (map[string]ReadCursor, error) {
	cursors := make(map[string]ReadCursor)
	err := fsutil.ReadJSON(s.path, &cursors)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return cursors, nil
}
