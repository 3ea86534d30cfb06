// Package ui holds transport-level replies that live outside any
// conversation script.
package ui

import (
	tghelpers "github.com/m3rciful/onboardbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// Fallbacks answers updates that no command or callback route claims.
type Fallbacks interface {
	UnknownText() tele.HandlerFunc
	UnknownDocument() tele.HandlerFunc
	UnknownCallback() tele.HandlerFunc
}

// Notice is a short fixed reply about the transport itself, not the
// conversation.
type Notice string

const (
	Busy        Notice = "Still working on your previous messages, please wait a moment."
	SlowDown    Notice = "You're sending messages too fast. Please slow down."
	Unsupported Notice = "Unsupported action"
)

// Send answers a callback with a toast and anything else with a plain message.
func (n Notice) Send(c tele.Context) error {
	if c.Callback() != nil {
		return c.Respond(&tele.CallbackResponse{Text: string(n)})
	}
	return tghelpers.SendText(c, string(n))
}

// Toast answers only callbacks; other updates are left alone.
func (n Notice) Toast(c tele.Context) error {
	if c.Callback() == nil {
		return nil
	}
	return c.Respond(&tele.CallbackResponse{Text: string(n)})
}
