package ptysup

import (
	"bytes"
	"io"
	"log"
	"net"
	"os"
	"testing"
	"time"
)

func startCat(t *testing.T) *Session {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	s, err := StartSession("g_test", "echoer", []string{"cat"}, os.Environ(), t.TempDir(), logger, nil)
	if err != nil {
		t.Skipf("no usable pty on this host: %v", err)
	}
	t.Cleanup(s.Stop)
	return s
}

func readUntil(t *testing.T, conn net.Conn, want string) {
	t.Helper()
	var got bytes.Buffer
	buf := make([]byte, 4096)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, err := conn.Read(buf)
		got.Write(buf[:n])
		if bytes.Contains(got.Bytes(), []byte(want)) {
			return
		}
		if err != nil && n == 0 {
			continue
		}
	}
	t.Fatalf("never saw %q in pty output; got %q", want, got.String())
}

func TestSessionEchoAndBacklogReplay(t *testing.T) {
	s := startCat(t)

	if err := s.WriteInput([]byte("hello-pty\r")); err != nil {
		t.Fatalf("WriteInput: %v", err)
	}

	// Give the pty a moment to echo so the attach exercises backlog replay.
	time.Sleep(300 * time.Millisecond)

	client, server := net.Pipe()
	defer client.Close()
	if err := s.Attach(server); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	readUntil(t, client, "hello-pty")
}

func TestSessionWriterRoutesInput(t *testing.T) {
	s := startCat(t)

	client, server := net.Pipe()
	defer client.Close()
	if err := s.Attach(server); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	// The first attached client is the writer; its bytes reach the process.
	if _, err := client.Write([]byte("typed-line\r")); err != nil {
		t.Fatalf("client write: %v", err)
	}
	readUntil(t, client, "typed-line")
}

func TestSessionStop(t *testing.T) {
	s := startCat(t)
	if !s.Running() {
		t.Fatal("session not running after start")
	}
	s.Stop()
	if s.Running() {
		t.Fatal("session still running after Stop")
	}
}

func TestSessionExitHook(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	exited := make(chan *Session, 1)
	s, err := StartSession("g_test", "short", []string{"true"}, os.Environ(), t.TempDir(), logger, func(s *Session) {
		exited <- s
	})
	if err != nil {
		t.Skipf("no usable pty on this host: %v", err)
	}
	select {
	case got := <-exited:
		if got != s {
			t.Fatal("exit hook received wrong session")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("exit hook never fired")
	}
	if s.Running() {
		t.Fatal("session still marked running after exit")
	}
}
