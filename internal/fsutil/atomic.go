// Package fsutil holds the filesystem primitives the rest of the system is
// built on: atomic writes, advisory locks, and log tailing. It has no
// dependencies on other internal packages.
package fsutil

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// AtomicWriteBytes writes data to path via a temp file in the same directory
// followed by rename, so readers never observe a partial file.
func AtomicWriteBytes(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// AtomicWriteText writes a string atomically.
func AtomicWriteText(path, text string) error {
	return AtomicWriteBytes(path, []byte(text), 0o644)
}

// AtomicWriteJSON marshals v (indented, UTF-8 preserved) and writes it
// atomically.
func AtomicWriteJSON(path string, v any) error {
	data, err := marshalJSON(v, true)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return AtomicWriteBytes(path, data, 0o644)
}

// ReadJSON reads path into v. Missing files return os.ErrNotExist unwrapped
// so callers can fall back to defaults.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// marshalJSON encodes without HTML escaping so non-ASCII and characters like
// & survive round-trips in ledger lines and state files.
func marshalJSON(v any, indent bool) ([]byte, error) {
	var buf jsonBuffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.bytes, nil
}

// MarshalJSONLine encodes v as a single compact line (no trailing newline).
func MarshalJSONLine(v any) ([]byte, error) {
	data, err := marshalJSON(v, false)
	if err != nil {
		return nil, err
	}
	// Encoder appends a newline; strip it so callers control framing.
	if n := len(data); n > 0 && data[n-1] == '\n' {
		data = data[:n-1]
	}
	return data, nil
}

type jsonBuffer struct {
	bytes []byte
}

func (b *jsonBuffer) Write(p []byte) (int, error) {
	b.bytes = append(b.bytes, p...)
	return len(p), nil
}
