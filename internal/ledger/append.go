package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cccc-dev/cccc/internal/fsutil"
)

// Append validates data for kind, wraps it in a fresh envelope, and appends
// one JSON line to path. The daemon serializes appends within a group; this
// function itself only guarantees a single atomic write syscall per line.
func Append(path, kind, groupID, scopeKey, by string, data any) (*Event, error) {
	raw, err := validateData(kind, data)
	if err != nil {
		return nil, err
	}
	ev := &Event{
		V:        1,
		ID:       NewID(),
		TS:       NowTS(),
		Kind:     kind,
		GroupID:  groupID,
		ScopeKey: scopeKey,
		By:       by,
		Data:     raw,
	}
	line, err := fsutil.MarshalJSONLine(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("append event: %w", err)
	}
	return ev, nil
}

// Mirror appends an already-built envelope verbatim to another log; the
// daemon uses it to copy group events into the global event log.
func Mirror(path string, ev *Event) error {
	line, err := fsutil.MarshalJSONLine(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ParseLine decodes one ledger line. Callers tailing the file should skip
// lines that fail to parse (partial write by a crashed writer).
func ParseLine(line string) (*Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		return nil, err
	}
	if ev.ID == "" || ev.Kind == "" {
		return nil, fmt.Errorf("malformed event line")
	}
	return &ev, nil
}

// ReadAll streams every parseable event in path, in file order. Missing file
// yields an empty slice.
func ReadAll(path string) ([]*Event, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var events []*Event
	start := 0
	for i := 0; i <= len(data); i++ {
		if i == len(data) || data[i] == '\n' {
			if i > start {
				if ev, perr := ParseLine(string(data[start:i])); perr == nil {
					events = append(events, ev)
				}
			}
			start = i + 1
		}
	}
	return events, nil
}

// ReadLast returns the last n events, oldest first.
func ReadLast(path string, n int) ([]*Event, error) {
	lines, err := fsutil.ReadLastLines(path, n)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	events := make([]*Event, 0, len(lines))
	for _, l := range lines {
		if ev, perr := ParseLine(l); perr == nil {
			events = append(events, ev)
		}
	}
	return events, nil
}

// FindByID scans path for the event with the given id.
func FindByID(path, id string) (*Event, error) {
	events, err := ReadAll(path)
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		if ev.ID == id {
			return ev, nil
		}
	}
	return nil, nil
}
