package bot

import (
	"context"
	"errors"

	"github.com/m3rciful/onboardbot/core/logger"
	"github.com/m3rciful/onboardbot/core/metrics"
	"github.com/m3rciful/onboardbot/core/telegram/keyboard"
	"github.com/m3rciful/onboardbot/core/telegram/sender"
	"github.com/m3rciful/onboardbot/onboarding/engine"

	tele "gopkg.in/telebot.v4"
)

// choicesPerRow lays out reply keyboards for choice questions.
const choicesPerRow = 3

// API is the slice of *tele.Bot the transport needs.
type API interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Transport delivers engine replies through the Telegram Bot API. Calls run
// on the caller's goroutine so replies to one chat keep their order.
type Transport struct {
	api  API
	disp *sender.Dispatcher
}

// NewTransport builds a Transport. disp may be nil, in which case sends are
// not retried.
func NewTransport(api API, disp *sender.Dispatcher) (*Transport, error) {
	if api == nil {
		return nil, errors.New("bot: nil telegram api")
	}
	return &Transport{api: api, disp: disp}, nil
}

// Send implements engine.Transport.
func (t *Transport) Send(ctx context.Context, chatID int64, r engine.Reply) error {
	what, opts, action, endpoint := render(r)
	run := func() error {
		_, err := t.api.Send(tele.ChatID(chatID), what, opts)
		return err
	}

	var err error
	if t.disp != nil {
		err = t.disp.Do(ctx, action, endpoint, run)
	} else {
		err = run()
	}
	metrics.RecordOutbound(logger.Status(err))
	return err
}

func render(r engine.Reply) (what interface{}, opts *tele.SendOptions, action, endpoint string) {
	opts = &tele.SendOptions{}
	if r.Markdown {
		opts.ParseMode = tele.ModeMarkdown
	}
	switch {
	case len(r.Buttons) > 0:
		btns := make([]keyboard.Button, 0, len(r.Buttons))
		for _, b := range r.Buttons {
			btns = append(btns, keyboard.Button{Text: b.Text, Unique: b.Key, Data: b.Payload})
		}
		opts.ReplyMarkup = keyboard.Inline(btns...)
	case len(r.Choices) > 0:
		opts.ReplyMarkup = keyboard.Choices(r.Choices, choicesPerRow)
	case r.RemoveKeyboard:
		opts.ReplyMarkup = keyboard.Remove()
	}

	if r.Photo != "" {
		return &tele.Photo{File: tele.FromURL(r.Photo), Caption: r.Text}, opts, "send.photo", "sendPhoto"
	}
	return r.Text, opts, "send.text", "sendMessage"
}
