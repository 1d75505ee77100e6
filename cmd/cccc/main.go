// cccc is the CLI front end for the collaboration daemon: it owns no state
// itself and forwards every operation over the daemon's unix socket.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cccc-dev/cccc/internal/daemon"
	"github.com/cccc-dev/cccc/internal/fsutil"
	"github.com/cccc-dev/cccc/internal/group"
	"github.com/cccc-dev/cccc/internal/home"
)

// Version is set by -ldflags at build time.
var Version = "dev"

var (
	flagHome    string
	flagGroupID string
	flagBy      string
	jsonOut     bool
)

var rootCmd = &cobra.Command{
	Use:           "cccc",
	Short:         "Multi-agent collaboration kernel",
	Long:          "cccc runs groups of terminal AI agents under one daemon:\nPTY supervision, an append-only group ledger, inboxes and delivery.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// usageError marks bad invocations (unknown flags, wrong argument counts)
// so main can exit 2 instead of 1.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func exactArgs(n int) cobra.PositionalArgs   { return usageArgs(cobra.ExactArgs(n)) }
func minimumArgs(n int) cobra.PositionalArgs { return usageArgs(cobra.MinimumNArgs(n)) }
func maximumArgs(n int) cobra.PositionalArgs { return usageArgs(cobra.MaximumNArgs(n)) }

func usageArgs(inner cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := inner(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

func init() {
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{err}
	})
	rootCmd.PersistentFlags().StringVar(&flagHome, "home", "", "home directory (default $CCCC_HOME or ~/.cccc)")
	rootCmd.PersistentFlags().StringVar(&flagGroupID, "group-id", "", "group id (default: current scope's group)")
	rootCmd.PersistentFlags().StringVar(&flagBy, "by", "", "caller identity (default $CCCC_ACTOR or \"user\")")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "print raw JSON results")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("cccc " + Version)
		},
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var ue usageError
		if errors.As(err, &ue) {
			fmt.Fprintf(os.Stderr, "usage error: %v\n", err)
			os.Exit(2)
		}
		var de *daemon.Error
		if errors.As(err, &de) {
			fmt.Fprintf(os.Stderr, "error (%s): %s\n", de.Code, de.Message)
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func layout() home.Layout { return home.NewLayout(flagHome) }

func client() *daemon.Client { return daemon.NewClient(layout().SocketPath()) }

// callerBy resolves the acting identity: explicit flag, then the actor env
// var injected into PTY sessions, then the human user.
func callerBy() string {
	if flagBy != "" {
		return flagBy
	}
	if v := os.Getenv("CCCC_ACTOR"); v != "" {
		return v
	}
	return "user"
}

type activeDoc struct {
	GroupID string `json:"group_id"`
}

// resolveGroupID picks the target group: --group-id, $CCCC_GROUP, the
// registered default for the current directory's scope, then active.json.
func resolveGroupID() (string, error) {
	if flagGroupID != "" {
		return flagGroupID, nil
	}
	if v := os.Getenv("CCCC_GROUP"); v != "" {
		return v, nil
	}
	l := layout()
	if cwd, err := os.Getwd(); err == nil {
		if scope, err := group.DeriveScope(cwd); err == nil {
			reg := group.NewRegistry(l.RegistryFile())
			if gid, ok, _ := reg.DefaultFor(scope.ScopeKey); ok {
				return gid, nil
			}
		}
	}
	var active activeDoc
	if err := fsutil.ReadJSON(l.ActiveFile(), &active); err == nil && active.GroupID != "" {
		return active.GroupID, nil
	}
	return "", fmt.Errorf("no group selected; run \"cccc attach\" in a project or pass --group-id")
}

func setActiveGroup(gid string) error {
	return fsutil.AtomicWriteJSON(layout().ActiveFile(), activeDoc{GroupID: gid})
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func printResult(raw json.RawMessage) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		fmt.Println(string(raw))
		return nil
	}
	return printJSON(v)
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
}
