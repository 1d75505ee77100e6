// Package bridge forwards ledger traffic to IM platforms and turns platform
// messages into ledger chat events. Platform specifics live behind the
// Adapter contract; the core pipeline is shared.
package bridge

import (
	"fmt"
	"strings"
)

// Chat types a platform can report.
const (
	ChatPrivate = "private"
	ChatGroup   = "group"
	ChatChannel = "channel"
)

// AttachmentMeta is what a platform hands us about an inbound file before
// download.
type AttachmentMeta struct {
	ID       string
	Filename string
	Size     int64
	MIME     string
	URL      string
}

// NormalizedMessage is one inbound platform message in platform-neutral
// shape. Routed means the adapter confirmed the message was addressed to
// the bot.
type NormalizedMessage struct {
	ChatID      string
	ChatTitle   string
	ChatType    string
	ThreadID    int64
	Text        string
	Attachments []AttachmentMeta
	FromUser    string
	MessageID   string
	Routed      bool
}

// Adapter is the platform driver contract. One adapter instance serves one
// bridge process.
type Adapter interface {
	// Name identifies the platform ("telegram", "feishu", ...).
	Name() string
	Connect() error
	Disconnect()
	// Poll returns inbound messages since the last call. It may block for
	// the platform's long-poll window.
	Poll() ([]NormalizedMessage, error)
	SendMessage(chatID, text string, threadID int64) error
	SendFile(chatID, filePath, filename, caption string, threadID int64) error
	ChatTitle(chatID string) string
	DownloadAttachment(meta AttachmentMeta) ([]byte, error)
	// FormatOutbound renders one ledger event for the platform.
	FormatOutbound(by string, to []string, text string, isSystem bool) string
	// MessagesPerSecond bounds the per-chat send rate.
	MessagesPerSecond() float64
}

// Summarize is the default long-text clamp adapters can delegate to: at
// most maxLines lines and maxChars characters, with an ellipsis marker when
// clipped.
func Summarize(text string, maxChars, maxLines int) string {
	clipped := false
	if maxLines > 0 {
		lines := strings.Split(text, "\n")
		if len(lines) > maxLines {
			lines = lines[:maxLines]
			clipped = true
		}
		text = strings.Join(lines, "\n")
	}
	if maxChars > 0 {
		runes := []rune(text)
		if len(runes) > maxChars {
			text = string(runes[:maxChars])
			clipped = true
		}
	}
	if clipped {
		text = strings.TrimRight(text, "\n") + "\n…"
	}
	return text
}

// FormatOutboundDefault is the platform-neutral rendering most adapters
// use: "[by] text", "[by → targets] text", or "[SYSTEM] text".
func FormatOutboundDefault(by string, to []string, text string, isSystem bool) string {
	if isSystem {
		return "[SYSTEM] " + text
	}
	if len(to) == 0 {
		return fmt.Sprintf("[%s] %s", by, text)
	}
	return fmt.Sprintf("[%s → %s] %s", by, strings.Join(to, ", "), text)
}
