package daemon

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/cccc-dev/cccc/internal/delivery"
	"github.com/cccc-dev/cccc/internal/group"
	"github.com/cccc-dev/cccc/internal/home"
	"github.com/cccc-dev/cccc/internal/ledger"
	"github.com/cccc-dev/cccc/internal/ptysup"
)

// ErrAlreadyRunning is returned by Run when a live daemon already answers
// on the socket; callers treat it as success.
var ErrAlreadyRunning = errors.New("daemon already running")

const (
	automationTickInterval = time.Second
	compactionTickInterval = time.Minute
)

// Server is the kernel process: it owns all writes to registry, group
// documents, ledgers and cursors, and supervises actor sessions.
type Server struct {
	layout   home.Layout
	logger   *log.Logger
	version  string
	settings *home.Settings

	registry   *group.Registry
	sup        *ptysup.Supervisor
	deliverer  *delivery.Deliverer
	automation *delivery.Automation
	keepalive  *delivery.Keepalive
	mailbox    *delivery.Mailbox
	processed  *delivery.ProcessedWatch

	// mu is the single-writer funnel: every mutating op holds it for the
	// whole read-modify-write-append cycle.
	mu sync.Mutex

	listener     net.Listener
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// NewServer wires a server for the given home directory.
func NewServer(layout home.Layout, settings *home.Settings, logger *log.Logger, version string) *Server {
	s := &Server{
		layout:     layout,
		logger:     logger,
		version:    version,
		settings:   settings,
		registry:   group.NewRegistry(layout.RegistryFile()),
		sup:        ptysup.NewSupervisor(layout, logger),
		shutdownCh: make(chan struct{}),
	}
	s.deliverer = &delivery.Deliverer{
		Layout: layout,
		Lookup: func(gid, aid string) delivery.Terminal {
			if sess := s.sup.Get(gid, aid); sess != nil {
				return sess
			}
			return nil
		},
		Logger: logger,
	}
	s.mailbox = delivery.NewMailbox(0, 0, logger)
	s.processed = delivery.NewProcessedWatch()
	s.automation = &delivery.Automation{
		Layout:       layout,
		Deliverer:    s.deliverer,
		Logger:       logger,
		SystemPrompt: systemPrompt,
	}
	s.keepalive = &delivery.Keepalive{
		Deliverer: s.deliverer,
		Logger:    logger,
		Busy:      s.actorBusy,
	}
	return s
}

// actorBusy implements keep-alive suppression: unread inbox items or any
// handoff in motion.
func (s *Server) actorBusy(gid, aid string) bool {
	if s.mailbox.Busy(gid, aid) {
		return true
	}
	g, err := group.LoadGroup(s.layout.GroupFile(gid))
	if err != nil {
		return false
	}
	events, err := ledger.ReadAll(s.layout.LedgerFile(gid))
	if err != nil {
		return false
	}
	cursors := ledger.NewCursorStore(s.layout.ReadCursorsFile(gid))
	cursor, err := cursors.Get(aid)
	if err != nil {
		return false
	}
	return group.OldestUnread(g, events, aid, cursor) != nil
}

// Run executes the startup sequence and serves until shutdown. Returns
// ErrAlreadyRunning when another daemon holds the socket.
func (s *Server) Run() error {
	if err := os.MkdirAll(s.layout.DaemonDir(), 0o755); err != nil {
		return fmt.Errorf("create daemon dir: %w", err)
	}

	sock := s.layout.SocketPath()
	if _, err := os.Stat(sock); err == nil {
		client := NewClient(sock)
		if _, err := client.Call("ping", nil); err == nil {
			return ErrAlreadyRunning
		}
		s.logger.Printf("removing stale socket %s", sock)
		os.Remove(sock)
	}

	if err := os.WriteFile(s.layout.PIDFile(), []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}

	ln, err := net.Listen("unix", sock)
	if err != nil {
		return fmt.Errorf("bind %s: %w", sock, err)
	}
	s.listener = ln

	if n := ptysup.ReapOrphans(s.layout, s.logger); n > 0 {
		s.logger.Printf("cleaned %d orphaned runner state files", n)
	}
	s.autostartRunningGroups()

	s.wg.Add(2)
	go s.automationLoop()
	go s.compactionLoop()

	s.logger.Printf("ccccd %s listening on %s (pid %d)", s.version, sock, os.Getpid())
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.shutdownCh:
				s.wg.Wait()
				s.sup.StopAll()
				os.Remove(sock)
				os.Remove(s.layout.PIDFile())
				s.logger.Printf("ccccd stopped")
				return nil
			default:
				s.logger.Printf("accept: %v", err)
				continue
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Shutdown stops the accept loop; Run finishes the teardown.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdownCh)
		if s.listener != nil {
			s.listener.Close()
		}
	})
}

// autostartRunningGroups restarts actors for groups marked running in the
// registry, injecting the system prompt after spawn.
func (s *Server) autostartRunningGroups() {
	all, err := s.registry.All()
	if err != nil {
		s.logger.Printf("autostart: read registry: %v", err)
		return
	}
	for gid := range all {
		g, err := group.LoadGroup(s.layout.GroupFile(gid))
		if err != nil || !g.Running {
			continue
		}
		if err := s.startGroupActors(g); err != nil {
			s.logger.Printf("autostart %s: %v", gid, err)
		}
	}
}

func (s *Server) automationLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(automationTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.shutdownCh:
			return
		case now := <-ticker.C:
			s.automationTick(now)
		}
	}
}

func (s *Server) automationTick(now time.Time) {
	all, err := s.registry.All()
	if err != nil {
		return
	}
	for gid := range all {
		g, err := group.LoadGroup(s.layout.GroupFile(gid))
		if err != nil {
			continue
		}
		// Weak ack: a spilled inbox file moved into processed/ clears the
		// receiver's inflight handoff. Paused groups still ack.
		for _, a := range g.Actors {
			if !a.Enabled {
				continue
			}
			if moved := s.processed.Poll(s.layout.ActorProcessedDir(gid, a.ID)); len(moved) > 0 {
				if next := s.mailbox.AckWeak(gid, a.ID, now); next != nil {
					s.redeliverHandoff(next)
				}
			}
		}
		if !g.Running || g.Paused {
			continue
		}
		events, err := ledger.ReadAll(s.layout.LedgerFile(gid))
		if err != nil {
			continue
		}
		cursors := ledger.NewCursorStore(s.layout.ReadCursorsFile(gid))
		s.automation.TickNudges(g, events, cursors, now)
	}
	resend, dropped := s.mailbox.Expire(now)
	for _, h := range resend {
		s.redeliverHandoff(h)
	}
	for _, h := range dropped {
		s.recordDroppedHandoff(h)
	}
	s.keepalive.Dispatch(now, func(gid string) *group.Group {
		g, err := group.LoadGroup(s.layout.GroupFile(gid))
		if err != nil || g.Paused {
			return nil
		}
		return g
	})
}

// recordDroppedHandoff makes a timed-out handoff visible in the ledger so
// the message is never silently lost.
func (s *Server) recordDroppedHandoff(h *delivery.Handoff) {
	text := fmt.Sprintf("handoff %s from %s to %s dropped after %d attempts", h.MID, h.From, h.To, h.Attempts)
	if _, err := s.appendEvent(h.GroupID, ledger.KindSystemNotify, "", "daemon", ledger.NotifyData{
		Text: text,
		Tag:  "handoff-timeout-drop",
	}); err != nil {
		s.logger.Printf("record dropped handoff %s: %v", h.MID, err)
	}
}

func (s *Server) redeliverHandoff(h *delivery.Handoff) {
	g, err := group.LoadGroup(s.layout.GroupFile(h.GroupID))
	if err != nil {
		return
	}
	if err := s.deliverer.DeliverSystem(g, h.To, h.Text); err != nil {
		s.logger.Printf("redeliver %s to %s: %v", h.MID, h.To, err)
	}
}

func (s *Server) compactionLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(compactionTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.shutdownCh:
			return
		case <-ticker.C:
			s.compactionTick()
		}
	}
}

func (s *Server) compactionTick() {
	all, err := s.registry.All()
	if err != nil {
		return
	}
	for gid := range all {
		g, err := group.LoadGroup(s.layout.GroupFile(gid))
		if err != nil {
			continue
		}
		if _, err := s.compactor(g).Compact(false); err != nil {
			s.logger.Printf("compact %s: %v", gid, err)
		}
	}
}

func (s *Server) compactor(g *group.Group) *ledger.Compactor {
	gid := g.GroupID
	return &ledger.Compactor{
		LedgerPath:     s.layout.LedgerFile(gid),
		LockPath:       s.layout.LedgerLockFile(gid),
		ArchiveDir:     s.layout.LedgerArchiveDir(gid),
		CompactionPath: s.layout.CompactionFile(gid),
		SnapshotPath:   s.layout.SnapshotFile(gid),
		Cursors:        ledger.NewCursorStore(s.layout.ReadCursorsFile(gid)),
		Config:         g.Ledger,
	}
}

// appendEvent writes to the group ledger and mirrors the envelope into the
// global event log for SSE-style consumers.
func (s *Server) appendEvent(gid, kind, scopeKey, by string, data any) (*ledger.Event, error) {
	ev, err := ledger.Append(s.layout.LedgerFile(gid), kind, gid, scopeKey, by, data)
	if err != nil {
		return nil, err
	}
	if err := ledger.Mirror(s.layout.GlobalEventLog(), ev); err != nil {
		s.logger.Printf("global event log: %v", err)
	}
	return ev, nil
}

func (s *Server) loadGroup(gid string) (*group.Group, *Error) {
	if gid == "" {
		return nil, E(CodeMissingGroupID, "group_id is required")
	}
	g, err := group.LoadGroup(s.layout.GroupFile(gid))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, E(CodeGroupNotFound, "no group %s", gid)
		}
		return nil, E(CodeGroupNotFound, "load group %s: %v", gid, err)
	}
	return g, nil
}

func (s *Server) saveGroup(g *group.Group) *Error {
	if err := group.SaveGroup(s.layout.GroupFile(g.GroupID), g); err != nil {
		return E(CodeInvalidRequest, "save group: %v", err)
	}
	return nil
}
