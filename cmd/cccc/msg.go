package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cccc-dev/cccc/internal/fsutil"
	"github.com/cccc-dev/cccc/internal/ledger"
)

var sendCmd = &cobra.Command{
	Use:   "send [text...]",
	Short: "Send a message into the group",
	Long: `Append a chat message to the group ledger and deliver it to the
targeted running actors.

Examples:
  cccc send "please review the diff" --to peerA
  cccc send --to @all "standup in 5"
  cccc send --by lead --to user "done"`,
	Args: minimumArgs(1),
	RunE: runSend,
}

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "List an actor's unread messages",
	RunE:  runInbox,
}

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show the last ledger events",
	RunE:  runTail,
}

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Ledger maintenance",
}

var ledgerSnapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Write a point-in-time ledger snapshot",
	RunE:  runLedgerSnapshot,
}

var ledgerCompactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Archive old ledger events past the retention window",
	RunE:  runLedgerCompact,
}

var contextCmd = &cobra.Command{
	Use:   "context [name]",
	Short: "Show the group's context files",
	Args:  maximumArgs(1),
	RunE:  runContext,
}

func init() {
	sendCmd.Flags().StringSlice("to", nil, "recipients: actor ids, titles, @all, @peers, @foreman, user")
	sendCmd.Flags().String("reply-to", "", "event id this message replies to")
	sendCmd.Flags().String("quote", "", "quoted text to include")
	sendCmd.Flags().String("format", "", "text format: plain or markdown")

	inboxCmd.Flags().String("actor-id", "", "actor whose inbox to read (default --by)")
	inboxCmd.Flags().Int("limit", 0, "maximum messages to return")
	inboxCmd.Flags().String("mark-read", "", "advance the read cursor past this event id")

	tailCmd.Flags().IntP("lines", "n", 20, "number of events")
	tailCmd.Flags().BoolP("follow", "f", false, "keep printing new events")

	ledgerCompactCmd.Flags().Bool("force", false, "compact regardless of the daily schedule")

	ledgerCmd.AddCommand(ledgerSnapshotCmd, ledgerCompactCmd)
	rootCmd.AddCommand(sendCmd, inboxCmd, tailCmd, ledgerCmd, contextCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	callArgs, err := groupArgs()
	if err != nil {
		return err
	}
	to, _ := cmd.Flags().GetStringSlice("to")
	replyTo, _ := cmd.Flags().GetString("reply-to")
	quote, _ := cmd.Flags().GetString("quote")
	format, _ := cmd.Flags().GetString("format")

	callArgs["text"] = strings.Join(args, " ")
	if len(to) > 0 {
		callArgs["to"] = to
	}
	if replyTo != "" {
		callArgs["reply_to"] = replyTo
	}
	if quote != "" {
		callArgs["quote_text"] = quote
	}
	if format != "" {
		callArgs["format"] = format
	}
	raw, err := client().Call("send", callArgs)
	if err != nil {
		return err
	}
	if jsonOut {
		return printResult(raw)
	}
	var res struct {
		EventID   string   `json:"event_id"`
		Delivered []string `json:"delivered"`
		Queued    []string `json:"queued"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return err
	}
	fmt.Printf("Sent %s", res.EventID)
	if len(res.Delivered) > 0 {
		fmt.Printf(" (delivered: %s)", strings.Join(res.Delivered, ", "))
	}
	if len(res.Queued) > 0 {
		fmt.Printf(" (queued: %s)", strings.Join(res.Queued, ", "))
	}
	fmt.Println()
	return nil
}

func runInbox(cmd *cobra.Command, args []string) error {
	callArgs, err := groupArgs()
	if err != nil {
		return err
	}
	actorID, _ := cmd.Flags().GetString("actor-id")
	if actorID == "" {
		actorID = callerBy()
	}
	callArgs["actor_id"] = actorID

	if eventID, _ := cmd.Flags().GetString("mark-read"); eventID != "" {
		callArgs["event_id"] = eventID
		raw, err := client().Call("inbox_mark_read", callArgs)
		if err != nil {
			return err
		}
		if jsonOut {
			return printResult(raw)
		}
		fmt.Printf("Marked read up to %s\n", eventID)
		return nil
	}

	if limit, _ := cmd.Flags().GetInt("limit"); limit > 0 {
		callArgs["limit"] = limit
	}
	raw, err := client().Call("inbox_list", callArgs)
	if err != nil {
		return err
	}
	if jsonOut {
		return printResult(raw)
	}
	var res inboxReply
	if err := json.Unmarshal(raw, &res); err != nil {
		return err
	}
	if len(res.Events) == 0 {
		fmt.Println("Inbox empty")
		return nil
	}
	for _, ev := range res.Events {
		printEvent(ev)
	}
	return nil
}

// inboxReply mirrors the daemon's inbox_list result: the cursor is a read
// cursor object, or null before the first mark-read.
type inboxReply struct {
	Events []*ledger.Event    `json:"events"`
	Cursor *ledger.ReadCursor `json:"cursor"`
}

func printEvent(ev *ledger.Event) {
	var d ledger.ChatMessageData
	if ev.Kind == ledger.KindChatMessage && json.Unmarshal(ev.Data, &d) == nil {
		target := ""
		if len(d.To) > 0 {
			target = " → " + strings.Join(d.To, ", ")
		}
		fmt.Printf("%s  %s%s  [%s]\n    %s\n", ev.TS, ev.By, target, ev.ID[:8], strings.ReplaceAll(d.Text, "\n", "\n    "))
		return
	}
	fmt.Printf("%s  %s  %s  [%s]\n", ev.TS, ev.Kind, ev.By, ev.ID[:8])
}

func runTail(cmd *cobra.Command, args []string) error {
	callArgs, err := groupArgs()
	if err != nil {
		return err
	}
	n, _ := cmd.Flags().GetInt("lines")
	follow, _ := cmd.Flags().GetBool("follow")
	callArgs["n"] = n

	raw, err := client().Call("ledger_tail", callArgs)
	if err != nil {
		return err
	}
	if jsonOut && !follow {
		return printResult(raw)
	}
	var res struct {
		Events []*ledger.Event `json:"events"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return err
	}
	for _, ev := range res.Events {
		printEvent(ev)
	}
	if !follow {
		return nil
	}

	gid := callArgs["group_id"].(string)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	lineCh := make(chan string, 64)
	errCh := make(chan error, 1)
	go func() { errCh <- fsutil.Follow(ctx, layout().LedgerFile(gid), lineCh) }()
	for {
		select {
		case line := <-lineCh:
			var ev ledger.Event
			if json.Unmarshal([]byte(line), &ev) == nil {
				printEvent(&ev)
			}
		case err := <-errCh:
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func runLedgerSnapshot(cmd *cobra.Command, args []string) error {
	callArgs, err := groupArgs()
	if err != nil {
		return err
	}
	raw, err := client().Call("ledger_snapshot", callArgs)
	if err != nil {
		return err
	}
	return printResult(raw)
}

func runLedgerCompact(cmd *cobra.Command, args []string) error {
	callArgs, err := groupArgs()
	if err != nil {
		return err
	}
	force, _ := cmd.Flags().GetBool("force")
	callArgs["force"] = force
	raw, err := client().Call("ledger_compact", callArgs)
	if err != nil {
		return err
	}
	return printResult(raw)
}

func runContext(cmd *cobra.Command, args []string) error {
	callArgs, err := groupArgs()
	if err != nil {
		return err
	}
	if len(args) == 1 {
		callArgs["name"] = args[0]
	}
	raw, err := client().Call("context_get", callArgs)
	if err != nil {
		return err
	}
	if jsonOut {
		return printResult(raw)
	}
	var res struct {
		Files   []string `json:"files"`
		Content string   `json:"content"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return err
	}
	switch {
	case res.Content != "":
		fmt.Print(res.Content)
		if !strings.HasSuffix(res.Content, "\n") {
			fmt.Println()
		}
	case len(res.Files) > 0:
		for _, f := range res.Files {
			fmt.Println(f)
		}
	default:
		fmt.Println("No context files")
	}
	return nil
}
