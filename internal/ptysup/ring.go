// Package ptysup supervises interactive CLI subprocesses on pseudo-terminals:
// one session per group/actor pair, output fan-out to attached clients with
// backlog replay, input routing with a single-writer rule.
package ptysup

// Ring is a bounded byte backlog. Chunks append at the tail; when the total
// exceeds the cap the oldest chunks are evicted whole.
type Ring struct {
	max    int
	chunks [][]byte
	size   int
}

// NewRing returns a ring holding at most max bytes. Non-positive max falls
// back to the default backlog size.
func NewRing(max int) *Ring {
	if max <= 0 {
		max = DefaultBacklogBytes
	}
	return &Ring{max: max}
}

// Append copies b into the ring and evicts from the head until the total
// fits. A chunk larger than the cap keeps only its tail.
func (r *Ring) Append(b []byte) {
	if len(b) == 0 {
		return
	}
	if len(b) >= r.max {
		r.chunks = [][]byte{append([]byte(nil), b[len(b)-r.max:]...)}
		r.size = r.max
		return
	}
	r.chunks = append(r.chunks, append([]byte(nil), b...))
	r.size += len(b)
	for r.size > r.max && len(r.chunks) > 0 {
		r.size -= len(r.chunks[0])
		r.chunks[0] = nil
		r.chunks = r.chunks[1:]
	}
}

// Bytes returns the current backlog as one contiguous copy, oldest first.
func (r *Ring) Bytes() []byte {
	out := make([]byte, 0, r.size)
	for _, c := range r.chunks {
		out = append(out, c...)
	}
	return out
}

// Len reports the buffered byte count.
func (r *Ring) Len() int { return r.size }
