package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// detachKey ends an attached terminal session (Ctrl-]).
const detachKey = 0x1d

var termCmd = &cobra.Command{
	Use:   "term",
	Short: "Interact with actor terminals",
}

var termAttachCmd = &cobra.Command{
	Use:   "attach <actor-id>",
	Short: "Attach this terminal to an actor's PTY",
	Long: `Mirror the actor's live terminal into yours. Keystrokes go to the
actor's PTY; detach with Ctrl-].`,
	Args: exactArgs(1),
	RunE: runTermAttach,
}

var termResizeCmd = &cobra.Command{
	Use:   "resize <actor-id>",
	Short: "Resize an actor's PTY",
	Args:  exactArgs(1),
	RunE:  runTermResize,
}

func init() {
	termResizeCmd.Flags().Uint16("rows", 40, "terminal rows")
	termResizeCmd.Flags().Uint16("cols", 120, "terminal columns")
	termCmd.AddCommand(termAttachCmd, termResizeCmd)
	rootCmd.AddCommand(termCmd)
}

func sendResize(gid, actorID string, rows, cols int) {
	client().Call("term_resize", map[string]any{
		"group_id": gid, "actor_id": actorID, "by": callerBy(),
		"rows": rows, "cols": cols,
	})
}

func runTermAttach(cmd *cobra.Command, args []string) error {
	gid, err := resolveGroupID()
	if err != nil {
		return err
	}
	actorID := args[0]

	stdinFd := int(os.Stdin.Fd())
	if !term.IsTerminal(stdinFd) {
		return fmt.Errorf("term attach needs an interactive terminal")
	}

	conn, err := client().TermAttach(gid, actorID, callerBy())
	if err != nil {
		return err
	}
	defer conn.Close()

	// Match the actor's PTY to our window, now and on resize.
	if cols, rows, err := term.GetSize(stdinFd); err == nil {
		sendResize(gid, actorID, rows, cols)
	}
	winchCh := make(chan os.Signal, 1)
	signal.Notify(winchCh, syscall.SIGWINCH)
	defer signal.Stop(winchCh)
	go func() {
		for range winchCh {
			if cols, rows, err := term.GetSize(stdinFd); err == nil {
				sendResize(gid, actorID, rows, cols)
			}
		}
	}()

	oldState, err := term.MakeRaw(stdinFd)
	if err != nil {
		return fmt.Errorf("raw mode: %w", err)
	}
	defer term.Restore(stdinFd, oldState)

	fmt.Fprintf(os.Stderr, "Attached to %s (detach: Ctrl-])\r\n", actorID)

	done := make(chan struct{})
	go func() {
		io.Copy(os.Stdout, conn)
		close(done)
	}()

	// Forward stdin, watching for the detach key.
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				chunk := buf[:n]
				for i, b := range chunk {
					if b == detachKey {
						if i > 0 {
							conn.Write(chunk[:i])
						}
						conn.Close()
						return
					}
				}
				if _, err := conn.Write(chunk); err != nil {
					return
				}
			}
			if err != nil {
				conn.Close()
				return
			}
		}
	}()

	<-done
	fmt.Fprintf(os.Stderr, "\r\nDetached from %s\r\n", actorID)
	return nil
}

func runTermResize(cmd *cobra.Command, args []string) error {
	gid, err := resolveGroupID()
	if err != nil {
		return err
	}
	rows, _ := cmd.Flags().GetUint16("rows")
	cols, _ := cmd.Flags().GetUint16("cols")
	_, err = client().Call("term_resize", map[string]any{
		"group_id": gid, "actor_id": args[0], "by": callerBy(),
		"rows": rows, "cols": cols,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Resized %s to %dx%d\n", args[0], cols, rows)
	return nil
}
