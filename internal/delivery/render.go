// Package delivery turns ledger chat events into bytes on actor PTYs and
// runs the automation that keeps conversations moving: nudges, self-checks,
// keep-alives, and handoff back-pressure.
package delivery

import (
	"fmt"
	"strings"

	"github.com/cccc-dev/cccc/internal/ledger"
)

// Prefix marks every injected line so actors can tell kernel traffic from
// terminal noise.
const Prefix = "[cccc] "

const quoteMaxChars = 80

// Render formats a chat message for terminal injection:
// "[cccc] <by> → <to>: <body>", with a reply marker and an optional quoted
// line above the body.
func Render(by string, d *ledger.ChatMessageData) string {
	to := d.To
	if len(to) == 0 {
		to = []string{"@all"}
	}
	head := fmt.Sprintf("%s%s → %s", Prefix, by, strings.Join(to, ", "))
	if d.ReplyTo != "" {
		ref := d.ReplyTo
		if len(ref) > 8 {
			ref = ref[:8]
		}
		head += fmt.Sprintf(" (reply:%s)", ref)
	}
	head += ": "
	if d.QuoteText == "" {
		return head + d.Text
	}
	quote := strings.ReplaceAll(d.QuoteText, "\n", " ")
	if n := []rune(quote); len(n) > quoteMaxChars {
		quote = string(n[:quoteMaxChars]) + "…"
	}
	return head + "\n> \"" + quote + "\"\n" + d.Text
}

// Multiline fallback modes for terminals without bracketed paste.
const (
	FallbackFile   = "file"
	FallbackEscape = "escape"
)

const (
	pasteStart = "\x1b[200~"
	pasteEnd   = "\x1b[201~"
)

// fileFallbackNotice is what the actor sees instead of the multi-line body.
func fileFallbackNotice(path string) string {
	return Prefix + "Delivered as file (terminal has no bracketed-paste): " + path
}

// EncodePayload converts the rendered text into the byte payload for one
// terminal. Multi-line text is paste-wrapped when the terminal supports it;
// otherwise the fallback either spills the body to spillPath (via writeFile)
// and substitutes a notice, or escapes the newlines.
func EncodePayload(rendered string, bracketedPaste bool, fallback, spillPath string, writeFile func(path, text string) error) ([]byte, error) {
	if !strings.Contains(rendered, "\n") {
		return []byte(rendered), nil
	}
	if bracketedPaste {
		return []byte(pasteStart + rendered + pasteEnd), nil
	}
	switch fallback {
	case FallbackEscape:
		return []byte(strings.ReplaceAll(rendered, "\n", `\n`)), nil
	default: // file
		if err := writeFile(spillPath, rendered); err != nil {
			return nil, fmt.Errorf("spill multi-line payload: %w", err)
		}
		return []byte(fileFallbackNotice(spillPath)), nil
	}
}

// SubmitSuffix maps an actor's submit mode to the trailing bytes that make
// its CLI accept the input.
func SubmitSuffix(mode string) []byte {
	switch mode {
	case "newline":
		return []byte("\n")
	case "none":
		return nil
	default: // enter
		return []byte("\r")
	}
}
