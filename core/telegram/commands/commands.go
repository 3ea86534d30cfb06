// Package commands describes slash commands and parses them out of message text.
package commands

import (
	"strings"

	tele "gopkg.in/telebot.v4"
)

// Command is a registered slash command.
type Command struct {
	Handler     tele.HandlerFunc
	Description string
	// AdminOnly commands are routed through the admin check and published
	// only in the admin's command menu.
	AdminOnly bool
	// Hidden commands work but are never published.
	Hidden  bool
	Aliases []string
}

// Name extracts the canonical command name from message text: the first
// word, lowercased, without a trailing @botname and with a leading slash.
// It returns "" for blank text.
func Name(text string) string {
	word, _, _ := strings.Cut(strings.TrimSpace(text), " ")
	if i := strings.IndexAny(word, "\n\t"); i >= 0 {
		word = word[:i]
	}
	if at := strings.IndexByte(word, '@'); at > 0 {
		word = word[:at]
	}
	if word == "" || word == "/" {
		return ""
	}
	return "/" + strings.ToLower(strings.TrimPrefix(word, "/"))
}
