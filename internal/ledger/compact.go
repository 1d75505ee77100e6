package ledger

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cccc-dev/cccc/internal/fsutil"
)

// RetentionConfig is the per-group ledger retention knobs (group.yaml ledger{}).
type RetentionConfig struct {
	MaxActiveBytes     int64 `yaml:"max_active_bytes" json:"max_active_bytes"`
	KeepTailLines      int   `yaml:"keep_tail_lines" json:"keep_tail_lines"`
	MinIntervalSeconds int   `yaml:"min_interval_seconds" json:"min_interval_seconds"`
}

// DefaultRetention returns the documented defaults.
func DefaultRetention() RetentionConfig {
	return RetentionConfig{
		MaxActiveBytes:     50 * 1024 * 1024,
		KeepTailLines:      2000,
		MinIntervalSeconds: 300,
	}
}

func (c RetentionConfig) withDefaults() RetentionConfig {
	d := DefaultRetention()
	if c.MaxActiveBytes <= 0 {
		c.MaxActiveBytes = d.MaxActiveBytes
	}
	if c.KeepTailLines <= 0 {
		c.KeepTailLines = d.KeepTailLines
	}
	if c.MinIntervalSeconds <= 0 {
		c.MinIntervalSeconds = d.MinIntervalSeconds
	}
	return c
}

// CompactionRecord is persisted after each successful compaction.
type CompactionRecord struct {
	At            string `json:"at"`
	ArchivedLines int    `json:"archived_lines"`
	KeptLines     int    `json:"kept_lines"`
	ArchiveFile   string `json:"archive_file"`
	SafeCursorTS  string `json:"safe_cursor_ts"`
}

// Snapshot is the lightweight ledger summary sidecar.
type Snapshot struct {
	At        string `json:"at"`
	SizeBytes int64  `json:"size_bytes"`
	LastEvent *struct {
		ID   string `json:"id"`
		TS   string `json:"ts"`
		Kind string `json:"kind"`
		By   string `json:"by"`
	} `json:"last_event,omitempty"`
}

// Compactor runs retention over one group's ledger.
type Compactor struct {
	LedgerPath     string
	LockPath       string
	ArchiveDir     string
	CompactionPath string
	SnapshotPath   string
	Cursors        *CursorStore
	Config         RetentionConfig
}

// WriteSnapshot records size and last event without touching the active log.
func (c *Compactor) WriteSnapshot() (*Snapshot, error) {
	snap := &Snapshot{At: NowTS()}
	if info, err := os.Stat(c.LedgerPath); err == nil {
		snap.SizeBytes = info.Size()
	}
	last, err := ReadLast(c.LedgerPath, 1)
	if err != nil {
		return nil, fmt.Errorf("read last event: %w", err)
	}
	if len(last) == 1 {
		ev := last[0]
		snap.LastEvent = &struct {
			ID   string `json:"id"`
			TS   string `json:"ts"`
			Kind string `json:"kind"`
			By   string `json:"by"`
		}{ID: ev.ID, TS: ev.TS, Kind: ev.Kind, By: ev.By}
	}
	if err := fsutil.AtomicWriteJSON(c.SnapshotPath, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// Compact archives events older than the global safe cursor once size and
// interval thresholds pass. force bypasses the thresholds. Returns nil record
// when nothing was done.
func (c *Compactor) Compact(force bool) (*CompactionRecord, error) {
	cfg := c.Config.withDefaults()

	lock, err := fsutil.AcquireLock(c.LockPath)
	if err != nil {
		return nil, fmt.Errorf("acquire ledger lock: %w", err)
	}
	defer lock.Unlock()

	if !force {
		var prev CompactionRecord
		if err := fsutil.ReadJSON(c.CompactionPath, &prev); err == nil {
			if at, perr := time.Parse(time.RFC3339Nano, prev.At); perr == nil {
				if time.Since(at) < time.Duration(cfg.MinIntervalSeconds)*time.Second {
					return nil, nil
				}
			}
		}
		info, err := os.Stat(c.LedgerPath)
		if err != nil || info.Size() < cfg.MaxActiveBytes {
			return nil, nil
		}
	}

	safeTS, err := c.Cursors.SafeCursorTS()
	if err != nil {
		return nil, fmt.Errorf("safe cursor: %w", err)
	}
	if safeTS == "" {
		return nil, nil
	}
	safeT, err := time.Parse(time.RFC3339Nano, safeTS)
	if err != nil {
		return nil, fmt.Errorf("parse safe cursor ts: %w", err)
	}

	lines, err := readLines(c.LedgerPath)
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	tailCutoff := len(lines) - cfg.KeepTailLines
	if tailCutoff < 0 {
		tailCutoff = 0
	}

	var archived, kept []string
	for i, line := range lines {
		archive := false
		if i < tailCutoff {
			if ev, perr := ParseLine(line); perr == nil {
				if t := ev.Time(); !t.IsZero() && !t.After(safeT) {
					archive = true
				}
			}
		}
		if archive {
			archived = append(archived, line)
		} else {
			kept = append(kept, line)
		}
	}
	if len(archived) == 0 {
		return nil, nil
	}

	stamp := time.Now().UTC().Format("20060102T150405Z")
	archivePath := filepath.Join(c.ArchiveDir, "ledger."+stamp+".jsonl")
	if err := os.MkdirAll(c.ArchiveDir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	if err := appendLines(archivePath, archived); err != nil {
		return nil, fmt.Errorf("write archive: %w", err)
	}
	if err := fsutil.AtomicWriteText(c.LedgerPath, joinLines(kept)); err != nil {
		return nil, fmt.Errorf("replace ledger: %w", err)
	}

	rec := &CompactionRecord{
		At:            NowTS(),
		ArchivedLines: len(archived),
		KeptLines:     len(kept),
		ArchiveFile:   filepath.Base(archivePath),
		SafeCursorTS:  safeTS,
	}
	if err := fsutil.AtomicWriteJSON(c.CompactionPath, rec); err != nil {
		return nil, err
	}
	if _, err := c.WriteSnapshot(); err != nil {
		return nil, err
	}
	return rec, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) > 0 {
			lines = append(lines, sc.Text())
		}
	}
	return lines, sc.Err()
}

func appendLines(path string, lines []string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, l := range lines {
		if _, err := w.WriteString(l + "\n"); err != nil {
			return err
		}
	}
	return w.Flush()
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	var out []byte
	for _, l := range lines {
		out = append(out, l...)
		out = append(out, '\n')
	}
	return string(out)
}
