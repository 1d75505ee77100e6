package bridge

import (
	"regexp"
	"strings"
)

// commandRe tolerates a leading bot mention ("@Bot /cmd") and the
// "@BotName" suffix group-privacy platforms append to the command token.
var commandRe = regexp.MustCompile(`^(?:@\S+\s+)?/(\w+)(?:@\S+)?(?:\s+([\s\S]*))?$`)

// Command is one parsed slash command.
type Command struct {
	Name string // canonical, lower case
	Arg  string // everything after the token, trimmed
}

// canonical command names keyed by accepted spellings.
var commandAliases = map[string]string{
	"subscribe":   "subscribe",
	"sub":         "subscribe",
	"unsubscribe": "unsubscribe",
	"unsub":       "unsubscribe",
	"verbose":     "verbose",
	"status":      "status",
	"st":          "status",
	"context":     "context",
	"ctx":         "context",
	"pause":       "pause",
	"resume":      "resume",
	"launch":      "launch",
	"start":       "launch",
	"quit":        "quit",
	"stop":        "quit",
	"help":        "help",
	"h":           "help",
	"send":        "send",
	"say":         "send",
}

// ParseCommand matches a slash command; nil when the text is ordinary
// content.
func ParseCommand(text string) *Command {
	m := commandRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return nil
	}
	name, ok := commandAliases[strings.ToLower(m[1])]
	if !ok {
		return nil
	}
	return &Command{Name: name, Arg: strings.TrimSpace(m[2])}
}

// IsSendCommand reports whether the text starts a /send, used by the
// group-chat drop rule before full parsing.
func IsSendCommand(text string) bool {
	c := ParseCommand(text)
	return c != nil && c.Name == "send"
}

var mentionRe = regexp.MustCompile(`@([\p{L}\p{N}_-]+)`)

// ExtractMentions pulls @-mentions out of message text; they become the
// recipient list and the cleaned text is what gets sent.
func ExtractMentions(text string) (to []string, rest string) {
	seen := make(map[string]bool)
	for _, m := range mentionRe.FindAllStringSubmatch(text, -1) {
		tok := m[1]
		switch strings.ToLower(tok) {
		case "all", "peers", "foreman":
			tok = "@" + strings.ToLower(tok)
		}
		if !seen[tok] {
			seen[tok] = true
			to = append(to, tok)
		}
	}
	rest = strings.TrimSpace(mentionRe.ReplaceAllString(text, ""))
	return to, rest
}
