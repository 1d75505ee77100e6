package delivery

import "os"

// ProcessedWatch notices inbox files arriving in per-actor processed
// directories between polls. The first scan of a directory only records what
// is already there, so files left over from an earlier run never count as a
// fresh acknowledgement.
type ProcessedWatch struct {
	seen map[string]map[string]bool
}

func NewProcessedWatch() *ProcessedWatch {
	return &ProcessedWatch{seen: make(map[string]map[string]bool)}
}

// Poll returns the names that appeared in dir since the previous poll. A
// missing directory seeds as empty so a file moved in later still counts.
func (w *ProcessedWatch) Poll(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		return nil
	}
	known, seeded := w.seen[dir]
	if !seeded {
		known = make(map[string]bool, len(entries))
		for _, e := range entries {
			known[e.Name()] = true
		}
		w.seen[dir] = known
		return nil
	}
	var fresh []string
	for _, e := range entries {
		if !known[e.Name()] {
			known[e.Name()] = true
			fresh = append(fresh, e.Name())
		}
	}
	return fresh
}
