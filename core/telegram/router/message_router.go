package router

import (
	"strings"
	"time"

	tg "github.com/m3rciful/onboardbot/core/telegram"

	tele "gopkg.in/telebot.v4"
)

// Conversation receives text updates that no registered command claimed,
// unknown slash commands included.
type Conversation interface {
	Forward(c tele.Context) error
}

// TextOptions controls fallback behaviour for text/document updates.
type TextOptions struct {
	UnknownDocument tele.HandlerFunc
}

// TextRoutes builds the OnText and OnDocument routes. Slash aliases of
// public commands are resolved first; everything else goes to conv, or to the
// registry text fallback when conv is nil.
func TextRoutes(conv Conversation, reg *tg.Registry, opts TextOptions) []tg.Route {
	handler := func(c tele.Context) error {
		start := time.Now()

		if text := c.Text(); reg != nil && strings.HasPrefix(text, "/") {
			if key, cmd, ok := reg.LookupCommand(text); ok && cmd.Handler != nil && !cmd.AdminOnly {
				return newStep("cmd", key).run(c, start, cmd.Handler)
			}
		}

		if conv != nil {
			return newStep("conversation", "").run(c, start, conv.Forward)
		}

		if reg != nil {
			if fb := reg.TextFallback(); fb != nil {
				return newStep("fallback", "").run(c, start, fb)
			}
		}

		newStep("unknown_text", "").skip(c, start)
		return nil
	}

	docHandler := func(c tele.Context) error {
		start := time.Now()
		st := newStep("unexpected_document", "")
		if opts.UnknownDocument == nil {
			st.skip(c, start)
			return nil
		}
		return st.run(c, start, opts.UnknownDocument)
	}

	return []tg.Route{
		{Endpoint: tele.OnText, Handler: handler},
		{Endpoint: tele.OnDocument, Handler: docHandler},
	}
}
