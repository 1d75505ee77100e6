package ptysup

import "bytes"

var (
	pasteOn  = []byte("\x1b[?2004h")
	pasteOff = []byte("\x1b[?2004l")
)

// PasteDetector tracks whether the program on the pty currently has
// bracketed paste enabled, by scanning its output stream for the enable and
// disable sequences. A small carry buffer catches sequences split across
// reads.
type PasteDetector struct {
	enabled bool
	carry   []byte
}

// Scan feeds one output chunk through the detector.
func (d *PasteDetector) Scan(chunk []byte) {
	buf := chunk
	if len(d.carry) > 0 {
		buf = append(append([]byte(nil), d.carry...), chunk...)
	}
	// The later of the two sequences wins.
	on := bytes.LastIndex(buf, pasteOn)
	off := bytes.LastIndex(buf, pasteOff)
	if on >= 0 || off >= 0 {
		d.enabled = on > off
	}
	keep := len(pasteOn) - 1
	if len(buf) < keep {
		keep = len(buf)
	}
	d.carry = append(d.carry[:0], buf[len(buf)-keep:]...)
}

// Enabled reports the last observed bracketed-paste state.
func (d *PasteDetector) Enabled() bool { return d.enabled }
