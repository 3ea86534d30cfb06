package router

import (
	"log/slog"
	"time"

	tg "github.com/m3rciful/onboardbot/core/telegram"
	"github.com/m3rciful/onboardbot/core/telegram/callbacks"

	tele "gopkg.in/telebot.v4"
)

// CallbackOptions customises fallback behaviour for callbacks.
type CallbackOptions struct {
	NotFound tele.HandlerFunc
}

// CallbackRoute returns a route that dispatches inline button presses by
// their unique key through the registry.
func CallbackRoute(reg *tg.Registry, opts CallbackOptions) tg.Route {
	handler := func(c tele.Context) error {
		start := time.Now()
		if c.Callback() == nil {
			return nil
		}

		key, _ := callbacks.Parse(c.Callback())
		keyAttr := slog.String("cb_key", key)

		if h, ok := reg.GetCallback(key); ok && h != nil {
			return newStep("callback", key, keyAttr).run(c, start, h)
		}

		st := newStep("callback.unknown", "", keyAttr, slog.String("reason", "not_found"))
		notFound := opts.NotFound
		if notFound == nil {
			notFound = reg.CallbackNotFound()
		}
		if notFound == nil {
			st.skip(c, start)
			return c.Respond()
		}
		return st.run(c, start, notFound)
	}
	return tg.Route{Endpoint: tele.OnCallback, Handler: handler}
}
