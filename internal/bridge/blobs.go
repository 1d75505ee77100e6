package bridge

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cccc-dev/cccc/internal/ledger"
)

// BlobStore keeps inbound attachments under state/blobs, addressed by
// content hash so re-downloads are idempotent.
type BlobStore struct {
	Dir string
}

// sanitizeFilename strips path separators and control characters so a
// platform-supplied name cannot escape the blob dir.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < 0x20, r == '/', r == '\\', r == ':':
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" || out == "." || out == ".." {
		out = "attachment"
	}
	return out
}

// Put stores data and returns the attachment descriptor for the ledger
// event. Existing blobs with the same hash are reused.
func (s *BlobStore) Put(data []byte, filename, mime string) (*ledger.Attachment, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	clean := sanitizeFilename(filename)
	path := filepath.Join(s.Dir, digest+"_"+clean)

	if _, err := os.Stat(path); err != nil {
		if err := os.MkdirAll(s.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create blob dir: %w", err)
		}
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			return nil, fmt.Errorf("write blob: %w", err)
		}
		if err := os.Rename(tmp, path); err != nil {
			return nil, fmt.Errorf("commit blob: %w", err)
		}
	}
	return &ledger.Attachment{
		SHA256:   digest,
		Filename: clean,
		Size:     int64(len(data)),
		Path:     path,
		MIME:     mime,
	}, nil
}

// Open returns the local path for an attachment descriptor, for outbound
// file sends.
func (s *BlobStore) Open(att *ledger.Attachment) (string, error) {
	path := att.Path
	if path == "" {
		path = filepath.Join(s.Dir, att.SHA256+"_"+sanitizeFilename(att.Filename))
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("blob %s: %w", att.SHA256, err)
	}
	return path, nil
}
