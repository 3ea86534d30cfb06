// Package engine drives each user's onboarding session through the question
// script and hands completed records to the sink.
package engine

import "context"

// Message is one inbound text from a user.
type Message struct {
	UserID    int64
	ChatID    int64
	Text      string
	MessageID int
}

// Reply is one outbound message.
type Reply struct {
	Text string
	// Choices renders a one-time reply keyboard.
	Choices []string
	// RemoveKeyboard hides a previously shown reply keyboard.
	RemoveKeyboard bool
	// Photo is a URL sent as an image instead of text; Text becomes the caption.
	Photo    string
	Markdown bool
	// Buttons renders an inline keyboard and takes precedence over Choices.
	Buttons []Button
}

// Button is an inline button that reports Key and Payload when pressed.
type Button struct {
	Text    string
	Key     string
	Payload string
}

// Transport delivers replies to a chat.
type Transport interface {
	Send(ctx context.Context, chatID int64, r Reply) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, chatID int64, r Reply) error

func (f TransportFunc) Send(ctx context.Context, chatID int64, r Reply) error {
	return f(ctx, chatID, r)
}

// SweepReport summarises one sweep pass.
type SweepReport struct {
	Sessions  int
	Retried   int
	Delivered int
	Expired   int
}
