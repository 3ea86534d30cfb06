package helpers

import (
	"context"

	"github.com/m3rciful/onboardbot/core/logger"

	tele "gopkg.in/telebot.v4"
)

const ctxStoreKey = "logger_ctx"

// IDs returns the update's sender and chat IDs; either is zero when absent.
func IDs(c tele.Context) (userID, chatID int64) {
	if u := c.Sender(); u != nil {
		userID = u.ID
	}
	if ch := c.Chat(); ch != nil {
		chatID = ch.ID
	}
	return userID, chatID
}

// NewUpdateContext builds a fresh logging context for c, stores it on c and
// returns it. Earlier stored contexts are replaced.
func NewUpdateContext(c tele.Context) context.Context {
	upd := c.Update()
	userID, chatID := IDs(c)
	rid := logger.BuildRID(upd.ID, chatID, userID)
	c.Set("rid", rid)

	ctx := logger.WithUpdateMeta(logger.WithRID(context.Background(), rid), upd.ID, userID, chatID)
	ctx = logger.WithLogger(ctx, logger.TG)
	StoreContext(c, ctx)
	return ctx
}

// StoreContext attaches ctx to c for later helpers.
func StoreContext(c tele.Context, ctx context.Context) {
	if c != nil && ctx != nil {
		c.Set(ctxStoreKey, ctx)
	}
}

// ContextFrom returns the context stored on c, if any.
func ContextFrom(c tele.Context) (context.Context, bool) {
	if c == nil {
		return nil, false
	}
	ctx, ok := c.Get(ctxStoreKey).(context.Context)
	return ctx, ok && ctx != nil
}

// BuildContext returns the stored context or creates one.
func BuildContext(c tele.Context) context.Context {
	if ctx, ok := ContextFrom(c); ok {
		return ctx
	}
	return NewUpdateContext(c)
}

// WithHandler tags the stored context with the serving handler's name.
func WithHandler(c tele.Context, handler string) context.Context {
	ctx := logger.WithHandler(BuildContext(c), handler)
	StoreContext(c, ctx)
	return ctx
}
