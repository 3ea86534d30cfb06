package middleware

import (
	"github.com/m3rciful/onboardbot/core/logger"
	"github.com/m3rciful/onboardbot/core/metrics"

	tele "gopkg.in/telebot.v4"
)

const tallyKey = "out.tally"

// tally counts what a handler sent while serving one update.
type tally struct {
	messages int
	keyboard bool
}

// countingContext feeds every Send, Reply and Edit into a tally.
type countingContext struct {
	tele.Context
	t *tally
}

func (c countingContext) track(err error, opts []interface{}) error {
	metrics.RecordOutbound(logger.Status(err))
	if err == nil {
		c.t.messages++
		c.t.keyboard = c.t.keyboard || hasKeyboard(opts)
	}
	return err
}

func hasKeyboard(opts []interface{}) bool {
	for _, o := range opts {
		switch v := o.(type) {
		case *tele.ReplyMarkup:
			return v != nil
		case *tele.SendOptions:
			if v != nil && v.ReplyMarkup != nil {
				return true
			}
		}
	}
	return false
}

func (c countingContext) Send(what interface{}, opts ...interface{}) error {
	return c.track(c.Context.Send(what, opts...), opts)
}

func (c countingContext) Reply(what interface{}, opts ...interface{}) error {
	return c.track(c.Context.Reply(what, opts...), opts)
}

func (c countingContext) Edit(what interface{}, opts ...interface{}) error {
	return c.track(c.Context.Edit(what, opts...), opts)
}

// MessageMetricsMiddleware counts replies a handler sends directly.
// Conversation replies go through the engine transport and are counted there.
func MessageMetricsMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		t := &tally{}
		c.Set(tallyKey, t)
		return next(countingContext{Context: c, t: t})
	}
}

// GetCounters returns how many messages the current handler sent and whether
// any of them carried a keyboard.
func GetCounters(c tele.Context) (int, bool) {
	t, _ := c.Get(tallyKey).(*tally)
	if t == nil {
		return 0, false
	}
	return t.messages, t.keyboard
}
