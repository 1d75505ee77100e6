package ledger

import (
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestCursorAdvanceIsMonotonic(t *testing.T) {
	store := NewCursorStore(filepath.Join(t.TempDir(), "read_cursors.json"))

	t1 := time.Now().UTC().Format(time.RFC3339Nano)
	t2 := time.Now().UTC().Add(time.Second).Format(time.RFC3339Nano)

	if err := store.Advance("peer-a", "e2", t2); err != nil {
		t.Fatal(err)
	}
	// Attempt to move backward; must be a no-op.
	if err := store.Advance("peer-a", "e1", t1); err != nil {
		t.Fatal(err)
	}
	c, err := store.Get("peer-a")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.EventID != "e2" || c.TS != t2 {
		t.Errorf("cursor moved backward: %+v", c)
	}
}

func TestCursorGetMissing(t *testing.T) {
	store := NewCursorStore(filepath.Join(t.TempDir(), "read_cursors.json"))
	c, err := store.Get("nobody")
	if err != nil {
		t.Fatal(err)
	}
	if c != nil {
		t.Errorf("expected nil cursor, got %+v", c)
	}
}

func TestSafeCursorTS(t *testing.T) {
	store := NewCursorStore(filepath.Join(t.TempDir(), "read_cursors.json"))

	min, err := store.SafeCursorTS()
	if err != nil {
		t.Fatal(err)
	}
	if min != "" {
		t.Errorf("expected empty safe cursor with no actors, got %q", min)
	}

	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	early := base.Format(time.RFC3339Nano)
	late := base.Add(time.Hour).Format(time.RFC3339Nano)
	store.Advance("a", "e1", late)
	store.Advance("b", "e2", early)

	min, err = store.SafeCursorTS()
	if err != nil {
		t.Fatal(err)
	}
	if min != early {
		t.Errorf("SafeCursorTS = %q, want %q", min, early)
	}
}

func TestNextSeqStrictlyIncreasingUnderConcurrency(t *testing.T) {
	dir := t.TempDir()
	counter := filepath.Join(dir, "inbox-seq-peerA.txt")

	const workers = 20
	results := make(chan int, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := NextSeq(counter, "")
			if err != nil {
				t.Errorf("NextSeq: %v", err)
				return
			}
			results <- n
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int]bool)
	for n := range results {
		if seen[n] {
			t.Errorf("duplicate sequence %d", n)
		}
		seen[n] = true
	}
	for i := 1; i <= workers; i++ {
		if !seen[i] {
			t.Errorf("missing sequence %d", i)
		}
	}
}

func TestNextSeqRecoversBaselineFromFilenames(t *testing.T) {
	dir := t.TempDir()
	inbox := filepath.Join(dir, "inbox")
	mustWrite(t, filepath.Join(inbox, "000041-old.txt"), "x")
	mustWrite(t, filepath.Join(inbox, "000007-older.txt"), "x")

	n, err := NextSeq(filepath.Join(dir, "inbox-seq-p.txt"), inbox)
	if err != nil {
		t.Fatal(err)
	}
	if n != 42 {
		t.Errorf("NextSeq = %d, want 42", n)
	}
	if got := FormatSeq(n); got != "000042" {
		t.Errorf("FormatSeq = %q, want 000042", got)
	}
}
