// cccc-bridge forwards one group's ledger traffic to an IM platform and
// feeds platform messages back in through the daemon. One process per
// group and platform.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cccc-dev/cccc/internal/bridge"
	"github.com/cccc-dev/cccc/internal/daemon"
	"github.com/cccc-dev/cccc/internal/home"
)

// Version is set by -ldflags at build time.
var Version = "dev"

var (
	flagHome     string
	flagGroupID  string
	flagPlatform string
	flagToken    string
)

var rootCmd = &cobra.Command{
	Use:   "cccc-bridge",
	Short: "IM bridge for a cccc group",
	Long: `Connect one group to an IM platform. Subscribed chats receive ledger
traffic; platform messages and slash commands flow back through the daemon.

The token flag accepts either the credential itself or the NAME of an
environment variable holding it (recommended):

  cccc-bridge --group-id g_a1b2c3 --platform telegram --token TELEGRAM_BOT_TOKEN`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVar(&flagHome, "home", "", "home directory (default $CCCC_HOME or ~/.cccc)")
	rootCmd.Flags().StringVar(&flagGroupID, "group-id", "", "group to bridge (required)")
	rootCmd.Flags().StringVar(&flagPlatform, "platform", "telegram", "IM platform")
	rootCmd.Flags().StringVar(&flagToken, "token", "", "bot token, or the name of an env var holding it")
	rootCmd.MarkFlagRequired("group-id")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("cccc-bridge " + Version)
		},
	})
}

func newAdapter(platform, token string) (bridge.Adapter, error) {
	switch platform {
	case "telegram":
		return bridge.NewTelegramAdapter(token), nil
	default:
		return nil, fmt.Errorf("unknown platform %q", platform)
	}
}

func run(cmd *cobra.Command, args []string) error {
	tokenSpec := flagToken
	if tokenSpec == "" {
		tokenSpec = os.Getenv("CCCC_BRIDGE_TOKEN")
	}
	token, err := bridge.ResolveToken(tokenSpec)
	if err != nil {
		return fmt.Errorf("%v; pass --token or set CCCC_BRIDGE_TOKEN", err)
	}
	adapter, err := newAdapter(flagPlatform, token)
	if err != nil {
		return err
	}

	layout := home.NewLayout(flagHome)
	logger := log.New(os.Stderr, "[cccc-bridge] ", log.LstdFlags)
	client := daemon.NewClient(layout.SocketPath())

	// Fail fast when the daemon or the group is missing.
	if _, err := client.Call("group_show", map[string]any{
		"group_id": flagGroupID, "by": "user",
	}); err != nil {
		return err
	}

	b := bridge.NewBridge(layout, flagGroupID, adapter, client, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return b.Run(ctx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
