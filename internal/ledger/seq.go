package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cccc-dev/cccc/internal/fsutil"
)

// NextSeq issues the next strictly increasing sequence number for a peer.
// The counter file holds the last issued integer; an adjacent .lock file
// serializes the read-modify-write across processes. If the counter file is
// missing, the baseline is recovered from existing %06d-prefixed filenames
// in scanDir (empty scanDir skips recovery).
func NextSeq(counterPath, scanDir string) (int, error) {
	lock, err := fsutil.AcquireLock(counterPath + ".lock")
	if err != nil {
		return 0, fmt.Errorf("acquire seq lock: %w", err)
	}
	defer lock.Unlock()

	last := 0
	data, rerr := os.ReadFile(counterPath)
	switch {
	case rerr == nil:
		n, perr := strconv.Atoi(strings.TrimSpace(string(data)))
		if perr != nil {
			return 0, fmt.Errorf("corrupt seq counter %s: %w", counterPath, perr)
		}
		last = n
	case os.IsNotExist(rerr):
		if scanDir != "" {
			last = maxSeqInDir(scanDir)
		}
	default:
		return 0, fmt.Errorf("read seq counter: %w", rerr)
	}

	next := last + 1
	if err := writeCounterSynced(counterPath, next); err != nil {
		return 0, err
	}
	return next, nil
}

// FormatSeq renders a sequence number as the zero-padded filename prefix.
func FormatSeq(n int) string {
	return fmt.Sprintf("%06d", n)
}

// maxSeqInDir finds the highest 6-digit numeric prefix among filenames.
func maxSeqInDir(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	max := 0
	for _, e := range entries {
		name := e.Name()
		if len(name) < 6 {
			continue
		}
		n, err := strconv.Atoi(name[:6])
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max
}

// writeCounterSynced writes the counter with an fsync so the value survives
// a crash; sequence numbers must never repeat across daemon restarts.
func writeCounterSynced(path string, n int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open seq counter: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%d", n); err != nil {
		return fmt.Errorf("write seq counter: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync seq counter: %w", err)
	}
	return nil
}
