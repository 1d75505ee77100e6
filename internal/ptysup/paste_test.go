package ptysup

import "testing"

func TestPasteDetector(t *testing.T) {
	var d PasteDetector
	if d.Enabled() {
		t.Fatal("enabled before any output")
	}

	d.Scan([]byte("prompt \x1b[?2004h$ "))
	if !d.Enabled() {
		t.Fatal("enable sequence missed")
	}

	d.Scan([]byte("bye \x1b[?2004l"))
	if d.Enabled() {
		t.Fatal("disable sequence missed")
	}

	// Most recent occurrence wins within one chunk.
	d.Scan([]byte("\x1b[?2004l then \x1b[?2004h"))
	if !d.Enabled() {
		t.Fatal("latest sequence should win")
	}
}

func TestPasteDetectorSplitAcrossReads(t *testing.T) {
	var d PasteDetector
	seq := []byte("\x1b[?2004h")
	for cut := 1; cut < len(seq); cut++ {
		d = PasteDetector{}
		d.Scan(seq[:cut])
		d.Scan(seq[cut:])
		if !d.Enabled() {
			t.Fatalf("sequence split at %d missed", cut)
		}
	}
}

func TestPasteDetectorStateSticks(t *testing.T) {
	var d PasteDetector
	d.Scan([]byte("\x1b[?2004h"))
	d.Scan([]byte("ordinary output with no sequences"))
	if !d.Enabled() {
		t.Fatal("state must persist across chunks without sequences")
	}
}
