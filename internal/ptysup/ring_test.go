package ptysup

import (
	"bytes"
	"strings"
	"testing"
)

func TestRingAppendAndEvict(t *testing.T) {
	r := NewRing(10)
	r.Append([]byte("abc"))
	r.Append([]byte("def"))
	if got := string(r.Bytes()); got != "abcdef" {
		t.Fatalf("Bytes = %q", got)
	}

	r.Append([]byte("ghij")) // 10 bytes, at cap
	if got := string(r.Bytes()); got != "abcdefghij" {
		t.Fatalf("Bytes at cap = %q", got)
	}

	r.Append([]byte("XY")) // evicts "abc" whole
	if got := string(r.Bytes()); got != "defghijXY" {
		t.Fatalf("Bytes after evict = %q", got)
	}
	if r.Len() != 9 {
		t.Errorf("Len = %d", r.Len())
	}
}

func TestRingOversizeChunkKeepsTail(t *testing.T) {
	r := NewRing(5)
	r.Append([]byte("0123456789"))
	if got := string(r.Bytes()); got != "56789" {
		t.Fatalf("Bytes = %q", got)
	}
}

func TestRingPreservesOrder(t *testing.T) {
	r := NewRing(1 << 20)
	var want bytes.Buffer
	for i := 0; i < 100; i++ {
		chunk := []byte(strings.Repeat(string(rune('a'+i%26)), 7))
		r.Append(chunk)
		want.Write(chunk)
	}
	if !bytes.Equal(r.Bytes(), want.Bytes()) {
		t.Fatal("backlog bytes reordered")
	}
}

func TestRingCopiesInput(t *testing.T) {
	r := NewRing(64)
	chunk := []byte("hello")
	r.Append(chunk)
	chunk[0] = 'X'
	if got := string(r.Bytes()); got != "hello" {
		t.Fatalf("ring aliased caller buffer: %q", got)
	}
}
