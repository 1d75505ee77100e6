package ledger

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestCompactor(t *testing.T) (*Compactor, string) {
	t.Helper()
	dir := t.TempDir()
	c := &Compactor{
		LedgerPath:     filepath.Join(dir, "ledger.jsonl"),
		LockPath:       filepath.Join(dir, "state", "ledger", "ledger.lock"),
		ArchiveDir:     filepath.Join(dir, "state", "ledger", "archive"),
		CompactionPath: filepath.Join(dir, "state", "ledger", "compaction.json"),
		SnapshotPath:   filepath.Join(dir, "state", "ledger", "snapshot.json"),
		Cursors:        NewCursorStore(filepath.Join(dir, "state", "read_cursors.json")),
		Config: RetentionConfig{
			MaxActiveBytes:     1, // always over threshold
			KeepTailLines:      2,
			MinIntervalSeconds: 1,
		},
	}
	return c, dir
}

func TestCompactArchivesOnlySafeEvents(t *testing.T) {
	c, _ := newTestCompactor(t)

	var events []*Event
	for i := 0; i < 6; i++ {
		ev, err := Append(c.LedgerPath, KindChatMessage, "g_1", "", "user", ChatMessageData{Text: "m"})
		if err != nil {
			t.Fatal(err)
		}
		events = append(events, ev)
		time.Sleep(2 * time.Millisecond)
	}
	// Actor has read up to the fourth event.
	if err := c.Cursors.Advance("peer-a", events[3].ID, events[3].TS); err != nil {
		t.Fatal(err)
	}

	rec, err := c.Compact(true)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if rec == nil {
		t.Fatal("expected a compaction record")
	}
	// 6 lines, keep_tail=2 → tail cutoff at 4; events 0..3 are before the
	// cutoff and ≤ safe cursor → archived.
	if rec.ArchivedLines != 4 || rec.KeptLines != 2 {
		t.Errorf("archived=%d kept=%d, want 4/2", rec.ArchivedLines, rec.KeptLines)
	}

	kept, err := ReadAll(c.LedgerPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(kept) != 2 || kept[0].ID != events[4].ID || kept[1].ID != events[5].ID {
		t.Errorf("active ledger holds wrong events: %d", len(kept))
	}

	archived, err := ReadAll(filepath.Join(c.ArchiveDir, rec.ArchiveFile))
	if err != nil {
		t.Fatal(err)
	}
	if len(archived) != 4 || archived[0].ID != events[0].ID {
		t.Errorf("archive holds wrong events: %d", len(archived))
	}
}

func TestCompactAbortsWithoutCursors(t *testing.T) {
	c, _ := newTestCompactor(t)
	for i := 0; i < 5; i++ {
		if _, err := Append(c.LedgerPath, KindChatMessage, "g_1", "", "user", ChatMessageData{Text: "m"}); err != nil {
			t.Fatal(err)
		}
	}
	rec, err := c.Compact(true)
	if err != nil {
		t.Fatal(err)
	}
	if rec != nil {
		t.Error("expected no compaction without a safe cursor")
	}
}

func TestCompactHonorsMinInterval(t *testing.T) {
	c, _ := newTestCompactor(t)
	c.Config.MinIntervalSeconds = 3600

	ev, err := Append(c.LedgerPath, KindChatMessage, "g_1", "", "user", ChatMessageData{Text: "m"})
	if err != nil {
		t.Fatal(err)
	}
	c.Cursors.Advance("a", ev.ID, ev.TS)

	// Seed a recent compaction record.
	mustWrite(t, c.CompactionPath, `{"at":"`+NowTS()+`"}`)
	rec, err := c.Compact(false)
	if err != nil {
		t.Fatal(err)
	}
	if rec != nil {
		t.Error("expected interval throttle to skip compaction")
	}
}

func TestWriteSnapshot(t *testing.T) {
	c, _ := newTestCompactor(t)
	ev, err := Append(c.LedgerPath, KindSystemNotify, "g_1", "", "daemon", NotifyData{Text: "up"})
	if err != nil {
		t.Fatal(err)
	}
	snap, err := c.WriteSnapshot()
	if err != nil {
		t.Fatal(err)
	}
	if snap.SizeBytes == 0 || snap.LastEvent == nil || snap.LastEvent.ID != ev.ID {
		t.Errorf("snapshot wrong: %+v", snap)
	}
}
