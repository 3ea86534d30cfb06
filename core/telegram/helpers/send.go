package helpers

import (
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/m3rciful/onboardbot/core/logger"
	"github.com/m3rciful/onboardbot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

var outbound atomic.Pointer[sender.Dispatcher]

// SetDispatcher installs the queue used by SendText. nil sends inline.
func SetDispatcher(d *sender.Dispatcher) { outbound.Store(d) }

// Dispatcher returns the installed queue, if any.
func Dispatcher() *sender.Dispatcher { return outbound.Load() }

// deliver queues fn on the installed dispatcher. A full or closed queue
// degrades to an inline call so the reply is not lost.
func deliver(c tele.Context, action, endpoint string, fn func() error) error {
	d := outbound.Load()
	if d == nil {
		return fn()
	}
	ctx := BuildContext(c)
	err := d.Enqueue(ctx, action, endpoint, fn)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sender.ErrQueueFull) && !errors.Is(err, sender.ErrQueueClosed) {
		return err
	}
	logger.LogEvent(ctx, logger.TG, slog.LevelWarn, "send.inline",
		slog.String("action", action),
		slog.String("reason", err.Error()),
	)
	return fn()
}

// SendText sends plain text to the chat of the current update.
func SendText(c tele.Context, text string, opts ...interface{}) error {
	return deliver(c, "send.text", "sendMessage", func() error {
		return c.Send(text, opts...)
	})
}
