// Package home resolves the cccc home directory layout. Every other package
// takes paths from here rather than assembling them ad hoc.
package home

import (
	"os"
	"path/filepath"
)

// EnvVar overrides the base directory when set.
const EnvVar = "CCCC_HOME"

// Dir returns the home root: $CCCC_HOME or ~/.cccc.
func Dir() string {
	if v := os.Getenv(EnvVar); v != "" {
		return v
	}
	h, err := os.UserHomeDir()
	if err != nil {
		h = os.TempDir()
	}
	return filepath.Join(h, ".cccc")
}

// Layout holds the resolved paths under one home root.
type Layout struct {
	Root string
}

// NewLayout builds a Layout for root, defaulting to Dir() when root is empty.
func NewLayout(root string) Layout {
	if root == "" {
		root = Dir()
	}
	return Layout{Root: root}
}

func (l Layout) RegistryFile() string   { return filepath.Join(l.Root, "registry.json") }
func (l Layout) ActiveFile() string     { return filepath.Join(l.Root, "active.json") }
func (l Layout) SettingsFile() string   { return filepath.Join(l.Root, "settings.yaml") }
func (l Layout) DaemonDir() string      { return filepath.Join(l.Root, "daemon") }
func (l Layout) SocketPath() string     { return filepath.Join(l.DaemonDir(), "ccccd.sock") }
func (l Layout) PIDFile() string        { return filepath.Join(l.DaemonDir(), "ccccd.pid") }
func (l Layout) GlobalEventLog() string { return filepath.Join(l.DaemonDir(), "ccccd.events.jsonl") }
func (l Layout) GroupsDir() string      { return filepath.Join(l.Root, "groups") }

func (l Layout) GroupDir(gid string) string  { return filepath.Join(l.GroupsDir(), gid) }
func (l Layout) GroupFile(gid string) string { return filepath.Join(l.GroupDir(gid), "group.yaml") }
func (l Layout) LedgerFile(gid string) string {
	return filepath.Join(l.GroupDir(gid), "ledger.jsonl")
}
func (l Layout) ContextDir(gid string) string { return filepath.Join(l.GroupDir(gid), "context") }
func (l Layout) ScopesDir(gid string) string  { return filepath.Join(l.GroupDir(gid), "scopes") }
func (l Layout) ScopeFile(gid, scopeKey string) string {
	return filepath.Join(l.ScopesDir(gid), scopeKey, "scope.yaml")
}
func (l Layout) StateDir(gid string) string { return filepath.Join(l.GroupDir(gid), "state") }
func (l Layout) ReadCursorsFile(gid string) string {
	return filepath.Join(l.StateDir(gid), "read_cursors.json")
}
func (l Layout) AutomationFile(gid string) string {
	return filepath.Join(l.StateDir(gid), "automation.json")
}
func (l Layout) InboxSeqFile(gid, peer string) string {
	return filepath.Join(l.StateDir(gid), "inbox-seq-"+peer+".txt")
}
func (l Layout) RunnerStateDir(gid string) string {
	return filepath.Join(l.StateDir(gid), "runners", "pty")
}
func (l Layout) RunnerStateFile(gid, actorID string) string {
	return filepath.Join(l.RunnerStateDir(gid), actorID+".json")
}
func (l Layout) DeliveryDir(gid string) string {
	return filepath.Join(l.StateDir(gid), "delivery")
}

// Spilled message files land in the actor's inbox directory; the actor (or
// its wrapper) moves consumed files into processed/, which the daemon polls
// as the weak acknowledgement signal.
func (l Layout) ActorInboxDir(gid, actorID string) string {
	return filepath.Join(l.DeliveryDir(gid), actorID, "inbox")
}
func (l Layout) ActorProcessedDir(gid, actorID string) string {
	return filepath.Join(l.DeliveryDir(gid), actorID, "processed")
}
func (l Layout) LedgerStateDir(gid string) string {
	return filepath.Join(l.StateDir(gid), "ledger")
}
func (l Layout) LedgerLockFile(gid string) string {
	return filepath.Join(l.LedgerStateDir(gid), "ledger.lock")
}
func (l Layout) LedgerArchiveDir(gid string) string {
	return filepath.Join(l.LedgerStateDir(gid), "archive")
}
func (l Layout) CompactionFile(gid string) string {
	return filepath.Join(l.LedgerStateDir(gid), "compaction.json")
}
func (l Layout) SnapshotFile(gid string) string {
	return filepath.Join(l.LedgerStateDir(gid), "snapshot.json")
}
func (l Layout) BridgeLockFile(gid string) string {
	return filepath.Join(l.StateDir(gid), "im_bridge.lock")
}
func (l Layout) BridgeCursorFile(gid string) string {
	return filepath.Join(l.StateDir(gid), "im_bridge_cursor.json")
}
func (l Layout) SubscribersFile(gid string) string {
	return filepath.Join(l.StateDir(gid), "im_subscribers.json")
}
func (l Layout) BlobsDir(gid string) string {
	return filepath.Join(l.StateDir(gid), "blobs")
}
