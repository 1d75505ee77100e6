package ptysup

import (
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/cccc-dev/cccc/internal/fsutil"
	"github.com/cccc-dev/cccc/internal/home"
	"github.com/cccc-dev/cccc/internal/ledger"
)

// RunnerState is the on-disk sidecar for one live pty session. It exists so
// a restarted daemon can find and reap orphans from a prior crash.
type RunnerState struct {
	V         int    `json:"v"`
	Kind      string `json:"kind"`
	GroupID   string `json:"group_id"`
	ActorID   string `json:"actor_id"`
	PID       int    `json:"pid"`
	StartedAt string `json:"started_at"`
}

// Supervisor owns at most one Session per (group, actor) pair.
type Supervisor struct {
	layout home.Layout
	logger *log.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSupervisor returns an empty supervisor writing sidecars under layout.
func NewSupervisor(layout home.Layout, logger *log.Logger) *Supervisor {
	return &Supervisor{
		layout:   layout,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Supported reports whether this platform can run pty sessions.
func (sup *Supervisor) Supported() bool { return true }

func sessionKey(gid, aid string) string { return gid + "/" + aid }

// StartActor spawns a pty session for the actor, or returns the existing one
// when it is still running.
func (sup *Supervisor) StartActor(gid, aid string, command []string, env []string, workdir string) (*Session, error) {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	key := sessionKey(gid, aid)
	if existing, ok := sup.sessions[key]; ok && existing.Running() {
		return existing, nil
	}

	s, err := StartSession(gid, aid, command, env, workdir, sup.logger, func(s *Session) {
		sup.mu.Lock()
		if sup.sessions[key] == s {
			delete(sup.sessions, key)
		}
		sup.mu.Unlock()
		os.Remove(sup.layout.RunnerStateFile(gid, aid))
	})
	if err != nil {
		return nil, err
	}
	sup.sessions[key] = s

	state := RunnerState{
		V:         1,
		Kind:      "pty",
		GroupID:   gid,
		ActorID:   aid,
		PID:       s.PID(),
		StartedAt: ledger.NowTS(),
	}
	if err := fsutil.AtomicWriteJSON(sup.layout.RunnerStateFile(gid, aid), state); err != nil {
		sup.logger.Printf("pty[%s/%s]: write runner state: %v", gid, aid, err)
	}
	sup.logger.Printf("pty[%s/%s]: started pid %d", gid, aid, s.PID())
	return s, nil
}

// Get returns the live session for an actor, or nil.
func (sup *Supervisor) Get(gid, aid string) *Session {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	if s, ok := sup.sessions[sessionKey(gid, aid)]; ok && s.Running() {
		return s
	}
	return nil
}

// StopActor stops the actor's session. Reports whether one was running.
func (sup *Supervisor) StopActor(gid, aid string) bool {
	s := sup.Get(gid, aid)
	if s == nil {
		return false
	}
	s.Stop()
	return true
}

// GroupRunning reports whether any session of the group is alive.
func (sup *Supervisor) GroupRunning(gid string) bool {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	for _, s := range sup.sessions {
		if s.GroupID == gid && s.Running() {
			return true
		}
	}
	return false
}

// GroupSessions returns the live sessions of one group.
func (sup *Supervisor) GroupSessions(gid string) []*Session {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	var out []*Session
	for _, s := range sup.sessions {
		if s.GroupID == gid && s.Running() {
			out = append(out, s)
		}
	}
	return out
}

// StopGroup stops every session of the group.
func (sup *Supervisor) StopGroup(gid string) {
	for _, s := range sup.GroupSessions(gid) {
		s.Stop()
	}
}

// StopAll stops every session; used on daemon shutdown.
func (sup *Supervisor) StopAll() {
	sup.mu.Lock()
	all := make([]*Session, 0, len(sup.sessions))
	for _, s := range sup.sessions {
		all = append(all, s)
	}
	sup.mu.Unlock()
	for _, s := range all {
		s.Stop()
	}
}

// Attach connects a raw client to an actor's running session.
func (sup *Supervisor) Attach(gid, aid string, conn net.Conn) error {
	s := sup.Get(gid, aid)
	if s == nil {
		return fmt.Errorf("actor %s is not running", aid)
	}
	return s.Attach(conn)
}

// Resize adjusts an actor's pty window.
func (sup *Supervisor) Resize(gid, aid string, rows, cols uint16) error {
	s := sup.Get(gid, aid)
	if s == nil {
		return fmt.Errorf("actor %s is not running", aid)
	}
	return s.Resize(rows, cols)
}

// WriteInput delivers payload into an actor's pty.
func (sup *Supervisor) WriteInput(gid, aid string, payload []byte) error {
	s := sup.Get(gid, aid)
	if s == nil {
		return fmt.Errorf("actor %s is not running", aid)
	}
	return s.WriteInput(payload)
}

// ReapOrphans scans runner sidecars across all groups, kills any process
// left over from a prior daemon, and removes the files. Returns the number
// of sidecars cleaned.
func ReapOrphans(layout home.Layout, logger *log.Logger) int {
	matches, err := filepath.Glob(filepath.Join(layout.GroupsDir(), "*", "state", "runners", "pty", "*.json"))
	if err != nil {
		return 0
	}
	n := 0
	for _, path := range matches {
		var state RunnerState
		if err := fsutil.ReadJSON(path, &state); err != nil {
			os.Remove(path)
			continue
		}
		if state.PID > 0 && unix.Kill(-state.PID, 0) == nil {
			logger.Printf("reaping orphan pty runner %s/%s pid %d", state.GroupID, state.ActorID, state.PID)
			unix.Kill(-state.PID, unix.SIGTERM)
			time.Sleep(200 * time.Millisecond)
			unix.Kill(-state.PID, unix.SIGKILL)
		}
		os.Remove(path)
		n++
	}
	return n
}

// LoadRunnerState reads one sidecar; callers use it for status reporting.
func LoadRunnerState(path string) (*RunnerState, error) {
	var state RunnerState
	if err := fsutil.ReadJSON(path, &state); err != nil {
		return nil, err
	}
	if state.Kind != "pty" {
		return nil, fmt.Errorf("unexpected runner kind %q", state.Kind)
	}
	return &state, nil
}
