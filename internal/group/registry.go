package group

import (
	"os"
	"sync"

	"github.com/cccc-dev/cccc/internal/fsutil"
	"github.com/cccc-dev/cccc/internal/ledger"
)

// RegistryEntry is the global index record for one group.
type RegistryEntry struct {
	GroupID         string `json:"group_id"`
	Title           string `json:"title,omitempty"`
	Topic           string `json:"topic,omitempty"`
	Path            string `json:"path"`
	DefaultScopeKey string `json:"default_scope_key,omitempty"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

// registryDoc is the registry.json shape.
type registryDoc struct {
	V         int                      `json:"v"`
	CreatedAt string                   `json:"created_at"`
	UpdatedAt string                   `json:"updated_at"`
	Groups    map[string]RegistryEntry `json:"groups"`
	Defaults  map[string]string        `json:"defaults"` // scope_key → group_id
}

// Registry is the global group index. All writes go through the daemon; the
// store serializes them in-process and writes atomically.
type Registry struct {
	path string
	mu   sync.Mutex
}

// NewRegistry opens the registry at path (created lazily on first write).
func NewRegistry(path string) *Registry {
	return &Registry{path: path}
}

func (r *Registry) load() (*registryDoc, error) {
	doc := &registryDoc{
		V:         1,
		CreatedAt: ledger.NowTS(),
		Groups:    make(map[string]RegistryEntry),
		Defaults:  make(map[string]string),
	}
	err := fsutil.ReadJSON(r.path, doc)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if doc.Groups == nil {
		doc.Groups = make(map[string]RegistryEntry)
	}
	if doc.Defaults == nil {
		doc.Defaults = make(map[string]string)
	}
	return doc, nil
}

func (r *Registry) save(doc *registryDoc) error {
	doc.UpdatedAt = ledger.NowTS()
	return fsutil.AtomicWriteJSON(r.path, doc)
}

// Put inserts or replaces a group's entry.
func (r *Registry) Put(entry RegistryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, err := r.load()
	if err != nil {
		return err
	}
	if existing, ok := doc.Groups[entry.GroupID]; ok {
		entry.CreatedAt = existing.CreatedAt
	} else if entry.CreatedAt == "" {
		entry.CreatedAt = ledger.NowTS()
	}
	entry.UpdatedAt = ledger.NowTS()
	doc.Groups[entry.GroupID] = entry
	return r.save(doc)
}

// Remove deletes a group's entry and any scope defaults pointing at it.
func (r *Registry) Remove(groupID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, err := r.load()
	if err != nil {
		return err
	}
	delete(doc.Groups, groupID)
	for key, gid := range doc.Defaults {
		if gid == groupID {
			delete(doc.Defaults, key)
		}
	}
	return r.save(doc)
}

// Get returns one entry.
func (r *Registry) Get(groupID string) (RegistryEntry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, err := r.load()
	if err != nil {
		return RegistryEntry{}, false, err
	}
	e, ok := doc.Groups[groupID]
	return e, ok, nil
}

// All returns every entry keyed by group id.
func (r *Registry) All() (map[string]RegistryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, err := r.load()
	if err != nil {
		return nil, err
	}
	out := make(map[string]RegistryEntry, len(doc.Groups))
	for k, v := range doc.Groups {
		out[k] = v
	}
	return out, nil
}

// SetDefault maps a scope key to its default group.
func (r *Registry) SetDefault(scopeKey, groupID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, err := r.load()
	if err != nil {
		return err
	}
	doc.Defaults[scopeKey] = groupID
	return r.save(doc)
}

// DefaultFor returns the default group for a scope key.
func (r *Registry) DefaultFor(scopeKey string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, err := r.load()
	if err != nil {
		return "", false, err
	}
	gid, ok := doc.Defaults[scopeKey]
	return gid, ok, nil
}
