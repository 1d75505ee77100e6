package bridge

import (
	"os"
	"testing"
)

func TestBlobStorePut(t *testing.T) {
	store := &BlobStore{Dir: t.TempDir()}

	att, err := store.Put([]byte("hello"), "notes.txt", "text/plain")
	if err != nil {
		t.Fatal(err)
	}
	if att.Size != 5 || att.Filename != "notes.txt" || len(att.SHA256) != 64 {
		t.Errorf("attachment = %+v", att)
	}
	data, err := os.ReadFile(att.Path)
	if err != nil || string(data) != "hello" {
		t.Fatalf("stored blob = %q, %v", data, err)
	}

	// Same content is idempotent.
	again, err := store.Put([]byte("hello"), "notes.txt", "text/plain")
	if err != nil {
		t.Fatal(err)
	}
	if again.Path != att.Path {
		t.Errorf("re-put moved the blob: %q vs %q", again.Path, att.Path)
	}

	path, err := store.Open(att)
	if err != nil || path != att.Path {
		t.Errorf("Open = %q, %v", path, err)
	}
}

func TestBlobStoreOpenByHash(t *testing.T) {
	store := &BlobStore{Dir: t.TempDir()}
	att, err := store.Put([]byte("payload"), "a.bin", "")
	if err != nil {
		t.Fatal(err)
	}
	att.Path = "" // force reconstruction from hash + name
	path, err := store.Open(att)
	if err != nil {
		t.Fatal(err)
	}
	if data, _ := os.ReadFile(path); string(data) != "payload" {
		t.Errorf("reconstructed path wrong: %q", path)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"report.txt", "report.txt"},
		{"../../etc/passwd", "passwd"},
		{"a/b\\c:d", "b_c_d"},
		{"", "attachment"},
		{"..", "attachment"},
		{"bad\x00name", "bad_name"},
	}
	for _, tt := range tests {
		if got := sanitizeFilename(tt.in); got != tt.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
