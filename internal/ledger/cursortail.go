package ledger

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/cccc-dev/cccc/internal/fsutil"
)

// tailCursor is the persisted position of a CursorTail.
type tailCursor struct {
	Dev    uint64 `json:"dev"`
	Ino    uint64 `json:"ino"`
	Offset int64  `json:"offset"`
}

// freshFileWindow: a ledger modified within this window on first run is
// considered fresh and read from the start instead of the end.
const freshFileWindow = 5 * time.Second

// CursorTail reads a ledger incrementally across process restarts,
// persisting {dev, ino, offset} so no event is forwarded twice. Rotation or
// truncation (inode change, offset past size) resets to the current end.
type CursorTail struct {
	ledgerPath string
	cursorPath string
	cursor     tailCursor
	loaded     bool
}

// NewCursorTail returns a tailer over ledgerPath with its cursor persisted
// at cursorPath.
func NewCursorTail(ledgerPath, cursorPath string) *CursorTail {
	return &CursorTail{ledgerPath: ledgerPath, cursorPath: cursorPath}
}

// Poll reads newly appended events since the last committed offset. The new
// offset is committed atomically after a successful read.
func (t *CursorTail) Poll() ([]*Event, error) {
	info, err := os.Stat(t.ledgerPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	dev, ino := fileIdentity(info)
	size := info.Size()

	if !t.loaded {
		t.loaded = true
		if err := fsutil.ReadJSON(t.cursorPath, &t.cursor); err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
			// First run: start at the end unless the file looks fresh.
			t.cursor = tailCursor{Dev: dev, Ino: ino, Offset: size}
			if time.Since(info.ModTime()) < freshFileWindow {
				t.cursor.Offset = 0
			}
		}
	}

	if t.cursor.Dev != dev || t.cursor.Ino != ino || t.cursor.Offset > size {
		// Rotated or truncated underneath us.
		t.cursor = tailCursor{Dev: dev, Ino: ino, Offset: size}
		if err := fsutil.AtomicWriteJSON(t.cursorPath, &t.cursor); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if t.cursor.Offset == size {
		return nil, nil
	}

	f, err := os.Open(t.ledgerPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := f.Seek(t.cursor.Offset, io.SeekStart); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(f, size-t.cursor.Offset))
	if err != nil {
		return nil, err
	}

	// Only consume up to the last newline; a partial trailing line (writer
	// mid-append) stays in the file for the next poll, so a restart never
	// splits an event.
	lastNL := bytes.LastIndexByte(data, '\n')
	if lastNL < 0 {
		return nil, nil
	}
	buf := data[:lastNL+1]
	var events []*Event
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		line := buf[:i]
		buf = buf[i+1:]
		if len(line) == 0 {
			continue
		}
		if ev, perr := ParseLine(string(line)); perr == nil {
			events = append(events, ev)
		}
	}

	t.cursor.Offset += int64(lastNL + 1)
	if err := fsutil.AtomicWriteJSON(t.cursorPath, &t.cursor); err != nil {
		return nil, fmt.Errorf("commit tail cursor: %w", err)
	}
	return events, nil
}

func fileIdentity(info os.FileInfo) (dev, ino uint64) {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return uint64(st.Dev), uint64(st.Ino)
	}
	return 0, 0
}
