package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/cccc-dev/cccc/internal/fsutil"
	"github.com/cccc-dev/cccc/internal/home"
	"github.com/cccc-dev/cccc/internal/ledger"
)

const outboundInterval = time.Second

// DaemonCaller is the slice of the daemon client the bridge uses. Tests
// substitute a fake.
type DaemonCaller interface {
	Call(op string, args any) (json.RawMessage, error)
}

// Stable platform error codes.
const (
	CodeTokenError          = "token_error"
	CodeAdapterDisconnected = "adapter_disconnected"
	CodeRateLimited         = "rate_limited"
)

// Error pairs a stable platform code with a human-readable message.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

// E builds a coded bridge error.
func E(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// envNameRe matches a token config value that names an environment variable
// instead of carrying the secret inline.
var envNameRe = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// ResolveToken turns a token setting into the actual credential: values that
// look like env var names are read from the environment, anything else is
// taken literally. Empty results are an error so the process can refuse to
// start instead of failing on the first API call.
func ResolveToken(spec string) (string, error) {
	if spec == "" {
		return "", E(CodeTokenError, "no token configured")
	}
	if envNameRe.MatchString(spec) {
		v := os.Getenv(spec)
		if v == "" {
			return "", E(CodeTokenError, "environment variable %s is empty", spec)
		}
		return v, nil
	}
	return spec, nil
}

// Bridge ties one IM adapter to one group's ledger through the daemon.
type Bridge struct {
	GroupID     string
	Layout      home.Layout
	Adapter     Adapter
	Daemon      DaemonCaller
	Logger      *log.Logger
	Subscribers *Subscribers

	tail    *ledger.CursorTail
	limiter *RateLimiter
	dedup   *Dedup
	blobs   *BlobStore
	lock    *fsutil.Lock
}

// NewBridge wires the pipeline for one group.
func NewBridge(layout home.Layout, groupID string, adapter Adapter, daemon DaemonCaller, logger *log.Logger) *Bridge {
	if logger == nil {
		logger = log.New(os.Stderr, "[bridge] ", log.LstdFlags)
	}
	return &Bridge{
		GroupID:     groupID,
		Layout:      layout,
		Adapter:     adapter,
		Daemon:      daemon,
		Logger:      logger,
		Subscribers: NewSubscribers(layout.SubscribersFile(groupID)),
		tail:        ledger.NewCursorTail(layout.LedgerFile(groupID), layout.BridgeCursorFile(groupID)),
		limiter:     NewRateLimiter(adapter.MessagesPerSecond()),
		dedup:       NewDedup(),
		blobs:       &BlobStore{Dir: layout.BlobsDir(groupID)},
	}
}

// Run connects the adapter and pumps messages both ways until ctx is done.
// Only one bridge may serve a group at a time; a second instance exits with
// an error instead of double-delivering.
func (b *Bridge) Run(ctx context.Context) error {
	if err := os.MkdirAll(b.Layout.StateDir(b.GroupID), 0o755); err != nil {
		return err
	}
	lock, err := fsutil.TryAcquireLock(b.Layout.BridgeLockFile(b.GroupID))
	if err != nil {
		return fmt.Errorf("bridge lock: %w", err)
	}
	if lock == nil {
		return fmt.Errorf("another bridge is already running for group %s", b.GroupID)
	}
	b.lock = lock
	defer b.lock.Unlock()

	if err := b.Adapter.Connect(); err != nil {
		return E(CodeAdapterDisconnected, "connect %s: %v", b.Adapter.Name(), err)
	}
	defer b.Adapter.Disconnect()
	b.Logger.Printf("bridge up: platform=%s group=%s", b.Adapter.Name(), b.GroupID)

	inbound := make(chan NormalizedMessage, 64)
	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		for ctx.Err() == nil {
			msgs, err := b.Adapter.Poll()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				b.Logger.Printf("poll: %v", err)
				time.Sleep(2 * time.Second)
				continue
			}
			for _, m := range msgs {
				select {
				case inbound <- m:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	ticker := time.NewTicker(outboundInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			<-pollDone
			return nil
		case msg := <-inbound:
			b.handleInbound(msg)
		case <-ticker.C:
			b.pumpOutbound()
		}
	}
}

// handleInbound routes one platform message: drop replays, apply the
// group-chat routing rule, then dispatch commands or forward content.
func (b *Bridge) handleInbound(msg NormalizedMessage) {
	if msg.MessageID != "" && b.dedup.Seen(msg.ChatID, msg.MessageID) {
		return
	}
	cmd := ParseCommand(msg.Text)
	// In group chats only bot-addressed messages and explicit /send pass;
	// everything else is ambient chatter.
	if msg.ChatType != ChatPrivate && !msg.Routed && !IsSendCommand(msg.Text) {
		return
	}
	if cmd != nil && cmd.Name != "send" {
		b.handleCommand(msg, cmd)
		return
	}
	text := msg.Text
	if cmd != nil {
		text = cmd.Arg
	}
	b.forwardContent(msg, text)
}

func (b *Bridge) reply(msg NormalizedMessage, text string) {
	b.limiter.WaitAndAcquire(msg.ChatID)
	if err := b.Adapter.SendMessage(msg.ChatID, text, msg.ThreadID); err != nil {
		b.Logger.Printf("reply to %s: %v", msg.ChatID, err)
	}
}

func (b *Bridge) replyErr(msg NormalizedMessage, err error) {
	b.Logger.Printf("command failed: %v", err)
	b.reply(msg, "❌ "+err.Error())
}

func (b *Bridge) handleCommand(msg NormalizedMessage, cmd *Command) {
	switch cmd.Name {
	case "subscribe":
		title := msg.ChatTitle
		if title == "" {
			title = b.Adapter.ChatTitle(msg.ChatID)
		}
		if _, err := b.Subscribers.Subscribe(msg.ChatID, msg.ThreadID, title); err != nil {
			b.replyErr(msg, err)
			return
		}
		b.reply(msg, fmt.Sprintf("✅ Subscribed to group %s.", b.GroupID))
	case "unsubscribe":
		if err := b.Subscribers.Unsubscribe(msg.ChatID, msg.ThreadID); err != nil {
			b.replyErr(msg, err)
			return
		}
		b.reply(msg, "✅ Unsubscribed.")
	case "verbose":
		on, err := b.Subscribers.ToggleVerbose(msg.ChatID, msg.ThreadID)
		if err != nil {
			b.replyErr(msg, err)
			return
		}
		if on {
			b.reply(msg, "✅ Verbose on: all agent traffic will be forwarded.")
		} else {
			b.reply(msg, "✅ Verbose off: only messages addressed to you.")
		}
	case "status":
		b.cmdStatus(msg)
	case "context":
		b.cmdContext(msg, cmd.Arg)
	case "pause":
		b.cmdSetState(msg, true)
	case "resume":
		b.cmdSetState(msg, false)
	case "launch":
		if _, err := b.Daemon.Call("group_start", b.groupArgs()); err != nil {
			b.replyErr(msg, err)
			return
		}
		b.reply(msg, "✅ Group started.")
	case "quit":
		if _, err := b.Daemon.Call("group_stop", b.groupArgs()); err != nil {
			b.replyErr(msg, err)
			return
		}
		b.reply(msg, "✅ Group stopped.")
	case "help":
		b.reply(msg, helpText)
	default:
		b.reply(msg, "❌ unknown command; try /help")
	}
}

const helpText = `cccc bridge commands:
/subscribe — forward group traffic to this chat
/unsubscribe — stop forwarding
/verbose — toggle forwarding of agent-to-agent traffic
/status — group and actor status
/context [name] — show context files
/pause /resume — pause or resume automation
/launch /quit — start or stop the group's actors
/send <text> — send into the group (plain text also works in private chat)
Mention actors with @id to target them.`

func (b *Bridge) groupArgs() map[string]any {
	return map[string]any{"group_id": b.GroupID, "by": "user"}
}

func (b *Bridge) cmdSetState(msg NormalizedMessage, paused bool) {
	args := b.groupArgs()
	args["paused"] = paused
	if _, err := b.Daemon.Call("group_set_state", args); err != nil {
		b.replyErr(msg, err)
		return
	}
	if paused {
		b.reply(msg, "✅ Paused: automation is off, actors keep running.")
	} else {
		b.reply(msg, "✅ Resumed.")
	}
}

func (b *Bridge) cmdStatus(msg NormalizedMessage) {
	var show struct {
		Group struct {
			Title  string `json:"title"`
			Topic  string `json:"topic"`
			Paused bool   `json:"paused"`
			Actors []struct {
				ID      string `json:"id"`
				Enabled bool   `json:"enabled"`
			} `json:"actors"`
		} `json:"group"`
		Running []string `json:"running"`
	}
	raw, err := b.Daemon.Call("group_show", b.groupArgs())
	if err != nil {
		b.replyErr(msg, err)
		return
	}
	if err := json.Unmarshal(raw, &show); err != nil {
		b.replyErr(msg, err)
		return
	}
	running := make(map[string]bool, len(show.Running))
	for _, aid := range show.Running {
		running[aid] = true
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Group %s (%s)\n", b.GroupID, show.Group.Title)
	if show.Group.Topic != "" {
		fmt.Fprintf(&sb, "Topic: %s\n", show.Group.Topic)
	}
	if show.Group.Paused {
		sb.WriteString("State: paused\n")
	}
	for _, a := range show.Group.Actors {
		state := "stopped"
		if running[a.ID] {
			state = "running"
		} else if !a.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(&sb, "• %s: %s\n", a.ID, state)
	}
	b.reply(msg, strings.TrimRight(sb.String(), "\n"))
}

func (b *Bridge) cmdContext(msg NormalizedMessage, name string) {
	args := b.groupArgs()
	if name != "" {
		args["name"] = name
	}
	var res struct {
		Files   []string `json:"files,omitempty"`
		Content string   `json:"content,omitempty"`
	}
	raw, err := b.Daemon.Call("context_get", args)
	if err != nil {
		b.replyErr(msg, err)
		return
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		b.replyErr(msg, err)
		return
	}
	switch {
	case res.Content != "":
		b.reply(msg, Summarize(res.Content, 3500, 60))
	case len(res.Files) > 0:
		b.reply(msg, "Context files:\n• "+strings.Join(res.Files, "\n• "))
	default:
		b.reply(msg, "No context files.")
	}
}

// forwardContent turns a platform message into a chat.message event sent as
// the human user. Mentions become the recipient list; attachments are pulled
// into the blob store first so actors can reference them by path.
func (b *Bridge) forwardContent(msg NormalizedMessage, text string) {
	to, rest := ExtractMentions(text)
	if rest == "" && len(msg.Attachments) == 0 {
		return
	}
	var atts []ledger.Attachment
	for _, meta := range msg.Attachments {
		data, err := b.Adapter.DownloadAttachment(meta)
		if err != nil {
			b.replyErr(msg, fmt.Errorf("download %s: %w", meta.Filename, err))
			continue
		}
		att, err := b.blobs.Put(data, meta.Filename, meta.MIME)
		if err != nil {
			b.replyErr(msg, err)
			continue
		}
		atts = append(atts, *att)
	}
	if rest == "" {
		rest = fmt.Sprintf("(sent %d attachment(s))", len(atts))
	}
	args := map[string]any{
		"group_id": b.GroupID,
		"by":       "user",
		"text":     rest,
	}
	if len(to) > 0 {
		args["to"] = to
	}
	if len(atts) > 0 {
		args["attachments"] = atts
	}
	if _, err := b.Daemon.Call("send", args); err != nil {
		b.replyErr(msg, err)
	}
}
