package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cccc-dev/cccc/internal/daemon"
	"github.com/cccc-dev/cccc/internal/home"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Control the background daemon",
}

var daemonRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon in the foreground",
	RunE:  runDaemonForeground,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon in the background",
	RunE:  runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	RunE:  runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE:  runDaemonStatus,
}

func init() {
	daemonCmd.AddCommand(daemonRunCmd, daemonStartCmd, daemonStopCmd, daemonStatusCmd)
	rootCmd.AddCommand(daemonCmd)
}

// setupDaemonLogger writes to the configured log file and stderr. File
// logging can be disabled with log_file: none in settings.yaml.
func setupDaemonLogger(l home.Layout, settings *home.Settings) *log.Logger {
	path := settings.LogFile
	if path == "" {
		path = filepath.Join(l.DaemonDir(), "ccccd.log")
	}
	if path == "none" || path == "off" {
		return log.New(os.Stderr, "[ccccd] ", log.LstdFlags)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
		if f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
			return log.New(io.MultiWriter(os.Stderr, f), "[ccccd] ", log.LstdFlags)
		}
	}
	return log.New(os.Stderr, "[ccccd] ", log.LstdFlags)
}

func runDaemonForeground(cmd *cobra.Command, args []string) error {
	l := layout()
	settings, err := home.LoadSettings(l.SettingsFile())
	if err != nil {
		return err
	}
	logger := setupDaemonLogger(l, settings)
	srv := daemon.NewServer(l, settings, logger, Version)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("signal %v, shutting down", sig)
		srv.Shutdown()
	}()

	err = srv.Run()
	if errors.Is(err, daemon.ErrAlreadyRunning) {
		return fmt.Errorf("daemon already running at %s", l.SocketPath())
	}
	return err
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	l := layout()
	if pingDaemon(l.SocketPath()) {
		fmt.Println("Daemon already running")
		return nil
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	child := exec.Command(exe, "daemon", "run")
	if flagHome != "" {
		child.Env = append(os.Environ(), home.EnvVar+"="+flagHome)
	} else {
		child.Env = os.Environ()
	}
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	child.Stdout = nil
	child.Stderr = nil
	if err := child.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	pid := child.Process.Pid
	child.Process.Release()

	if err := waitForSocket(l.SocketPath(), 10*time.Second); err != nil {
		return err
	}
	fmt.Printf("Daemon started (pid=%d)\n", pid)
	return nil
}

func waitForSocket(socketPath string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	interval := 50 * time.Millisecond
	for time.Now().Before(deadline) {
		if pingDaemon(socketPath) {
			return nil
		}
		time.Sleep(interval)
		if interval < 500*time.Millisecond {
			interval *= 2
		}
	}
	return fmt.Errorf("daemon did not start within %s", timeout)
}

func pingDaemon(socketPath string) bool {
	conn, err := net.DialTimeout("unix", socketPath, time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	_, err = daemon.NewClient(socketPath).Call("ping", nil)
	return err == nil
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	if _, err := client().Call("shutdown", map[string]any{"by": callerBy()}); err != nil {
		var de *daemon.Error
		if errors.As(err, &de) && de.Code == daemon.CodeDaemonUnavailable {
			fmt.Println("Daemon not running")
			return nil
		}
		return err
	}
	fmt.Println("Daemon stopped")
	return nil
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	raw, err := client().Call("ping", nil)
	if err != nil {
		var de *daemon.Error
		if errors.As(err, &de) && de.Code == daemon.CodeDaemonUnavailable {
			fmt.Println("Daemon not running")
			os.Exit(1)
		}
		return err
	}
	if jsonOut {
		return printResult(raw)
	}
	var res struct {
		Version string `json:"version"`
		PID     int    `json:"pid"`
		Now     string `json:"now"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return err
	}
	fmt.Printf("Daemon running: version=%s pid=%d\n", res.Version, res.PID)
	return nil
}
