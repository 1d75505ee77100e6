package ptysup

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// Tunables. The backlog bounds replay for late attaches; the outbox cap is
// the slow-consumer cutoff per attached client.
const (
	DefaultBacklogBytes      = 2 << 20
	DefaultClientOutboxBytes = 8 << 20
	DefaultCols              = 120
	DefaultRows              = 40

	readChunkSize = 64 << 10

	writeBackoff    = 100 * time.Millisecond
	writeBackoffMax = 5 * time.Second

	stopGrace = time.Second
)

// client is one attached terminal connection. Outbox bytes are tracked so a
// consumer that stops draining gets dropped instead of stalling the session.
type client struct {
	conn    net.Conn
	out     chan []byte
	pending atomic.Int64
	closed  atomic.Bool
}

func (c *client) drop() {
	if c.closed.CompareAndSwap(false, true) {
		c.conn.Close()
	}
}

// clientInput carries bytes read from an attached client into the loop.
type clientInput struct {
	c   *client
	b   []byte
	err error
}

// Session is one live pty-backed actor process and its attached clients.
type Session struct {
	GroupID string
	ActorID string

	cmd    *exec.Cmd
	master *os.File
	logger *log.Logger
	onExit func(*Session)

	attachCh chan net.Conn
	inputCh  chan clientInput
	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}

	writeMu sync.Mutex

	mu      sync.Mutex
	running bool
	paste   PasteDetector

	outboxMax int
}

// StartSession spawns command on a fresh pty as a session leader and runs
// the fan-out loop until the process exits or Stop is called. onExit fires
// once, after the loop has fully wound down.
func StartSession(groupID, actorID string, command []string, env []string, workdir string, logger *log.Logger, onExit func(*Session)) (*Session, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("actor %s: empty command", actorID)
	}
	cmd := exec.Command(command[0], command[1:]...)
	cmd.Dir = workdir
	cmd.Env = env
	master, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: DefaultRows, Cols: DefaultCols})
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", command[0], err)
	}

	s := &Session{
		GroupID:   groupID,
		ActorID:   actorID,
		cmd:       cmd,
		master:    master,
		logger:    logger,
		onExit:    onExit,
		attachCh:  make(chan net.Conn, 8),
		inputCh:   make(chan clientInput, 32),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		running:   true,
		outboxMax: DefaultClientOutboxBytes,
	}
	go s.loop()
	return s, nil
}

// PID returns the actor process id.
func (s *Session) PID() int {
	if s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Running reports whether the actor process is still alive.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// BracketedPaste reports the last paste-mode state seen on the output stream.
func (s *Session) BracketedPaste() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paste.Enabled()
}

// Attach hands a connection to the session loop. The client immediately
// receives the current backlog; the first attached client becomes the
// writer. Fails when the session is no longer running.
func (s *Session) Attach(conn net.Conn) error {
	select {
	case s.attachCh <- conn:
		return nil
	case <-s.doneCh:
		return fmt.Errorf("actor %s: session not running", s.ActorID)
	}
}

// WriteInput writes payload to the pty master, retrying with backoff on
// EAGAIN for up to writeBackoffMax.
func (s *Session) WriteInput(payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	deadline := time.Now().Add(writeBackoffMax)
	for len(payload) > 0 {
		n, err := s.master.Write(payload)
		payload = payload[n:]
		if err == nil {
			continue
		}
		if errors.Is(err, syscall.EAGAIN) && time.Now().Before(deadline) {
			time.Sleep(writeBackoff)
			continue
		}
		return fmt.Errorf("write to %s pty: %w", s.ActorID, err)
	}
	return nil
}

// Resize sets the pty window size and signals the process group.
func (s *Session) Resize(rows, cols uint16) error {
	if err := pty.Setsize(s.master, &pty.Winsize{Rows: rows, Cols: cols}); err != nil {
		return fmt.Errorf("resize %s pty: %w", s.ActorID, err)
	}
	if pid := s.PID(); pid > 0 {
		unix.Kill(-pid, unix.SIGWINCH)
	}
	return nil
}

// Stop terminates the actor process: SIGTERM, a grace period, then SIGKILL.
// Blocks until the session loop has exited.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	if pid := s.PID(); pid > 0 {
		unix.Kill(-pid, unix.SIGTERM)
		select {
		case <-s.doneCh:
			return
		case <-time.After(stopGrace):
			unix.Kill(-pid, unix.SIGKILL)
		}
	}
	<-s.doneCh
}

// Wait blocks until the session has fully shut down.
func (s *Session) Wait() { <-s.doneCh }

func (s *Session) loop() {
	backlog := NewRing(DefaultBacklogBytes)
	clients := make(map[*client]bool)
	var writer *client

	// Reader goroutine: master reads feed the loop; EOF or EIO means the
	// child dropped its side of the pty.
	outCh := make(chan []byte, 8)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		buf := make([]byte, readChunkSize)
		for {
			n, err := s.master.Read(buf)
			if n > 0 {
				outCh <- append([]byte(nil), buf[:n]...)
			}
			if err != nil {
				return
			}
		}
	}()

	dropClient := func(c *client) {
		if !clients[c] {
			return
		}
		delete(clients, c)
		c.drop()
		close(c.out)
		if writer == c {
			writer = nil
			for next := range clients {
				writer = next
				break
			}
		}
	}

	enqueue := func(c *client, chunk []byte) {
		if c.pending.Load()+int64(len(chunk)) > int64(s.outboxMax) {
			s.logger.Printf("pty[%s/%s]: dropping slow client", s.GroupID, s.ActorID)
			dropClient(c)
			return
		}
		c.pending.Add(int64(len(chunk)))
		select {
		case c.out <- chunk:
		default:
			// Outbox channel jammed below the byte cap; treat as slow.
			c.pending.Add(-int64(len(chunk)))
			s.logger.Printf("pty[%s/%s]: dropping stalled client", s.GroupID, s.ActorID)
			dropClient(c)
		}
	}

	done := false
	for !done {
		select {
		case chunk := <-outCh:
			backlog.Append(chunk)
			s.mu.Lock()
			s.paste.Scan(chunk)
			s.mu.Unlock()
			for c := range clients {
				enqueue(c, chunk)
			}

		case conn := <-s.attachCh:
			c := &client{conn: conn, out: make(chan []byte, 64)}
			clients[c] = true
			if writer == nil {
				writer = c
			}
			go s.clientWriter(c)
			go s.clientReader(c)
			if replay := backlog.Bytes(); len(replay) > 0 {
				enqueue(c, replay)
			}

		case in := <-s.inputCh:
			if in.err != nil {
				dropClient(in.c)
				break
			}
			if clients[in.c] && in.c == writer {
				if err := s.WriteInput(in.b); err != nil {
					s.logger.Printf("pty[%s/%s]: %v", s.GroupID, s.ActorID, err)
				}
			}

		case <-readDone:
			done = true

		case <-s.stopCh:
			done = true
		}
	}

	s.master.Close()
	// Drain until the reader goroutine exits so a blocked send cannot wedge
	// shutdown.
	for draining := true; draining; {
		select {
		case <-outCh:
		case <-readDone:
			draining = false
		}
	}
	s.cmd.Wait()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	for c := range clients {
		dropClient(c)
	}
	close(s.doneCh)
	if s.onExit != nil {
		s.onExit(s)
	}
	s.logger.Printf("pty[%s/%s]: session ended (pid %d)", s.GroupID, s.ActorID, s.PID())
}

// clientWriter drains one client's outbox onto its socket.
func (s *Session) clientWriter(c *client) {
	for chunk := range c.out {
		c.pending.Add(-int64(len(chunk)))
		if _, err := c.conn.Write(chunk); err != nil {
			c.drop()
			// Keep draining so the loop's close(c.out) never blocks.
		}
	}
	c.drop()
}

// clientReader forwards one client's keystrokes into the loop; only the
// current writer's bytes reach the master. EOF detaches the client.
func (s *Session) clientReader(c *client) {
	buf := make([]byte, 4096)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			in := clientInput{c: c, b: append([]byte(nil), buf[:n]...)}
			select {
			case s.inputCh <- in:
			case <-s.doneCh:
				return
			}
		}
		if err != nil {
			select {
			case s.inputCh <- clientInput{c: c, err: err}:
			case <-s.doneCh:
			}
			return
		}
	}
}
