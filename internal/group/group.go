package group

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cccc-dev/cccc/internal/fsutil"
	"github.com/cccc-dev/cccc/internal/ledger"
)

// DeliveryConfig controls how messages reach actor PTYs.
type DeliveryConfig struct {
	// MultilineFallback is what to do with multi-line payloads when the
	// target terminal has no bracketed paste: "file" writes the payload to
	// state/delivery and sends a notice; "escape" collapses newlines.
	MultilineFallback string `yaml:"multiline_fallback,omitempty" json:"multiline_fallback,omitempty"`
	AckTimeoutSeconds int    `yaml:"ack_timeout_seconds,omitempty" json:"ack_timeout_seconds,omitempty"`
	ResendAttempts    int    `yaml:"resend_attempts,omitempty" json:"resend_attempts,omitempty"`
}

// AutomationConfig tunes the nudge/self-check/keep-alive ticker.
type AutomationConfig struct {
	NudgeAfterSeconds            int `yaml:"nudge_after_seconds,omitempty" json:"nudge_after_seconds,omitempty"`
	SelfCheckEveryHandoffs       int `yaml:"self_check_every_handoffs,omitempty" json:"self_check_every_handoffs,omitempty"`
	SystemRefreshEverySelfChecks int `yaml:"system_refresh_every_self_checks,omitempty" json:"system_refresh_every_self_checks,omitempty"`
	KeepaliveDelaySeconds        int `yaml:"keepalive_delay_seconds,omitempty" json:"keepalive_delay_seconds,omitempty"`
}

// MessagingConfig holds the group's default send policy.
type MessagingConfig struct {
	// DefaultSendTo is the recipient list used when a message carries an
	// empty to[]. Empty means broadcast.
	DefaultSendTo []string `yaml:"default_send_to,omitempty" json:"default_send_to,omitempty"`
}

// TranscriptConfig controls the terminal transcript mirror.
type TranscriptConfig struct {
	Enabled  bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	MaxBytes int64 `yaml:"max_bytes,omitempty" json:"max_bytes,omitempty"`
}

// Group is the per-group document (group.yaml).
type Group struct {
	V               int                    `yaml:"v" json:"v"`
	GroupID         string                 `yaml:"group_id" json:"group_id"`
	Title           string                 `yaml:"title,omitempty" json:"title,omitempty"`
	Topic           string                 `yaml:"topic,omitempty" json:"topic,omitempty"`
	CreatedAt       string                 `yaml:"created_at" json:"created_at"`
	UpdatedAt       string                 `yaml:"updated_at" json:"updated_at"`
	Running         bool                   `yaml:"running" json:"running"`
	Paused          bool                   `yaml:"paused,omitempty" json:"paused,omitempty"`
	ActiveScopeKey  string                 `yaml:"active_scope_key,omitempty" json:"active_scope_key,omitempty"`
	Scopes          []Scope                `yaml:"scopes,omitempty" json:"scopes,omitempty"`
	Actors          []*Actor               `yaml:"actors,omitempty" json:"actors,omitempty"`
	Delivery        DeliveryConfig         `yaml:"delivery,omitempty" json:"delivery,omitempty"`
	Automation      AutomationConfig       `yaml:"automation,omitempty" json:"automation,omitempty"`
	Messaging       MessagingConfig        `yaml:"messaging,omitempty" json:"messaging,omitempty"`
	Transcript      TranscriptConfig       `yaml:"terminal_transcript,omitempty" json:"terminal_transcript,omitempty"`
	Ledger          ledger.RetentionConfig `yaml:"ledger,omitempty" json:"ledger,omitempty"`
}

// NewGroupID returns a fresh opaque group id (g_ + 12 hex).
func NewGroupID() string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing means the platform is broken; fall back to time.
		return fmt.Sprintf("g_%012x", time.Now().UnixNano()&0xffffffffffff)
	}
	return "g_" + hex.EncodeToString(b[:])
}

// NewGroup creates an empty group document.
func NewGroup(title string) *Group {
	now := ledger.NowTS()
	return &Group{
		V:         1,
		GroupID:   NewGroupID(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks the document invariants.
func (g *Group) Validate() error {
	if g.GroupID == "" {
		return fmt.Errorf("group_id is empty")
	}
	seen := make(map[string]bool, len(g.Actors))
	for _, a := range g.Actors {
		if seen[a.ID] {
			return fmt.Errorf("duplicate actor id %q", a.ID)
		}
		seen[a.ID] = true
	}
	if g.ActiveScopeKey != "" && g.ScopeByKey(g.ActiveScopeKey) == nil {
		return fmt.Errorf("active_scope_key %q is not attached", g.ActiveScopeKey)
	}
	return nil
}

// ScopeByKey returns the attached scope with the given key, or nil.
func (g *Group) ScopeByKey(key string) *Scope {
	for i := range g.Scopes {
		if g.Scopes[i].ScopeKey == key {
			return &g.Scopes[i]
		}
	}
	return nil
}

// ActorByID returns the actor with the given id, or nil.
func (g *Group) ActorByID(id string) *Actor {
	for _, a := range g.Actors {
		if a.ID == id {
			return a
		}
	}
	return nil
}

// ActorByTitle returns the first actor whose title matches, or nil.
func (g *Group) ActorByTitle(title string) *Actor {
	if title == "" {
		return nil
	}
	for _, a := range g.Actors {
		if a.Title == title {
			return a
		}
	}
	return nil
}

// Foreman returns the first enabled actor, which holds the foreman role by
// position. Nil when no actor is enabled.
func (g *Group) Foreman() *Actor {
	for _, a := range g.Actors {
		if a.Enabled {
			return a
		}
	}
	return nil
}

// Role names.
const (
	RoleForeman = "foreman"
	RolePeer    = "peer"
)

// EffectiveRole returns "foreman" or "peer" for an actor id. Unknown ids are
// peers; the caller validates membership separately.
func (g *Group) EffectiveRole(actorID string) string {
	if f := g.Foreman(); f != nil && f.ID == actorID {
		return RoleForeman
	}
	return RolePeer
}

// AttachScope adds or refreshes a scope and makes it active when no active
// scope is set.
func (g *Group) AttachScope(s Scope) {
	if existing := g.ScopeByKey(s.ScopeKey); existing != nil {
		*existing = s
	} else {
		g.Scopes = append(g.Scopes, s)
	}
	if g.ActiveScopeKey == "" {
		g.ActiveScopeKey = s.ScopeKey
	}
}

// DetachScope removes a scope; the active scope rotates to the first
// remaining one. Reports whether the scope was attached.
func (g *Group) DetachScope(key string) bool {
	idx := -1
	for i := range g.Scopes {
		if g.Scopes[i].ScopeKey == key {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	g.Scopes = append(g.Scopes[:idx], g.Scopes[idx+1:]...)
	if g.ActiveScopeKey == key {
		g.ActiveScopeKey = ""
		if len(g.Scopes) > 0 {
			g.ActiveScopeKey = g.Scopes[0].ScopeKey
		}
	}
	return true
}

// Touch bumps updated_at.
func (g *Group) Touch() {
	g.UpdatedAt = ledger.NowTS()
}

// LoadGroup reads and validates a group.yaml.
func LoadGroup(path string) (*Group, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var g Group
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parse group doc: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid group doc: %w", err)
	}
	return &g, nil
}

// SaveGroup writes the document atomically with a bumped updated_at.
func SaveGroup(path string, g *Group) error {
	if err := g.Validate(); err != nil {
		return err
	}
	g.Touch()
	data, err := yaml.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal group doc: %w", err)
	}
	return fsutil.AtomicWriteBytes(path, data, 0o644)
}
