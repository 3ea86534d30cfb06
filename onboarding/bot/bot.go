// Package bot binds the onboarding engine to Telegram: commands, per-user
// lanes and the operator commands.
package bot

import (
	"context"
	"errors"
	"log/slog"

	"github.com/m3rciful/onboardbot/core/logger"
	tg "github.com/m3rciful/onboardbot/core/telegram"
	"github.com/m3rciful/onboardbot/core/telegram/commands"
	tghelpers "github.com/m3rciful/onboardbot/core/telegram/helpers"
	"github.com/m3rciful/onboardbot/core/telegram/router"
	"github.com/m3rciful/onboardbot/core/telegram/serial"
	"github.com/m3rciful/onboardbot/core/telegram/ui"
	"github.com/m3rciful/onboardbot/onboarding/engine"

	tele "gopkg.in/telebot.v4"
)

// Options wires a Bot.
type Options struct {
	Engine *engine.Engine
	Lanes  *serial.Lanes
	// Transport carries operator replies; user replies go through the engine.
	Transport engine.Transport
	AdminID   int64
	// Context cancels queued conversation work on shutdown.
	Context context.Context
}

// Bot forwards Telegram updates to the engine, one lane per user.
type Bot struct {
	engine    *engine.Engine
	lanes     *serial.Lanes
	transport engine.Transport
	adminID   int64
	base      context.Context
}

var (
	_ router.Conversation = (*Bot)(nil)
	_ ui.Fallbacks        = (*Bot)(nil)
)

// New validates opts and builds a Bot.
func New(opts Options) (*Bot, error) {
	switch {
	case opts.Engine == nil:
		return nil, errors.New("bot: engine is required")
	case opts.Lanes == nil:
		return nil, errors.New("bot: lanes are required")
	case opts.Transport == nil:
		return nil, errors.New("bot: transport is required")
	}
	base := opts.Context
	if base == nil {
		base = context.Background()
	}
	return &Bot{
		engine:    opts.Engine,
		lanes:     opts.Lanes,
		transport: opts.Transport,
		adminID:   opts.AdminID,
		base:      base,
	}, nil
}

// Register adds the bot's commands and callbacks to reg.
func (b *Bot) Register(reg *tg.Registry) error {
	cmds := []struct {
		name string
		cmd  commands.Command
	}{
		{"/start", commands.Command{Description: "Start onboarding", Handler: b.Forward}},
		{"/cancel", commands.Command{Description: "Cancel onboarding", Handler: b.Forward}},
		{"/help", commands.Command{Description: "Show help", Handler: b.Forward}},
		{"/pending", commands.Command{Description: "List records waiting for the sink", AdminOnly: true, Handler: b.pending}},
		{"/drop", commands.Command{Description: "Drop a user's session: /drop <user_id>", AdminOnly: true, Handler: b.drop}},
	}
	for _, c := range cmds {
		if err := reg.RegisterCommand(c.name, c.cmd); err != nil {
			return err
		}
	}
	if err := reg.RegisterCallback(cbDrop, b.dropCallback); err != nil {
		return err
	}
	reg.SetCallbackNotFound(b.UnknownCallback())
	reg.SetTextFallback(b.UnknownText())
	return nil
}

// Routes returns every handler the bot needs, built from reg.
func (b *Bot) Routes(reg *tg.Registry) []tg.Route {
	routes := router.CommandRoutes(reg, router.CommandRouteOptions{
		AdminID: b.adminID,
		// Non-admins get the same help as for any unknown command.
		OnAdminReject: b.Forward,
	})
	routes = append(routes, router.CallbackRoute(reg, router.CallbackOptions{NotFound: b.UnknownCallback()}))
	return append(routes, router.TextRoutes(b, reg, router.TextOptions{UnknownDocument: b.UnknownDocument()})...)
}

// Forward queues the update on the sender's lane for the engine.
func (b *Bot) Forward(c tele.Context) error {
	user, chat := c.Sender(), c.Chat()
	if user == nil || chat == nil {
		return nil
	}
	m := engine.Message{UserID: user.ID, ChatID: chat.ID, Text: c.Text()}
	if msg := c.Message(); msg != nil {
		m.MessageID = msg.ID
	}

	reqCtx := tghelpers.BuildContext(c)
	err := b.lanes.Submit(user.ID, func() {
		ctx, cancel := context.WithCancel(reqCtx)
		stop := context.AfterFunc(b.base, cancel)
		defer func() {
			stop()
			cancel()
		}()
		if err := b.engine.Handle(ctx, m); err != nil {
			logger.LogEvent(ctx, logger.Engine, slog.LevelError, "engine.handle.fail",
				slog.String("err", err.Error()),
			)
		}
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, serial.ErrLaneFull):
		logger.LogEvent(reqCtx, logger.TG, slog.LevelWarn, "lane.full")
		return ui.Busy.Send(c)
	case errors.Is(err, serial.ErrClosed):
		logger.LogEvent(reqCtx, logger.TG, slog.LevelInfo, "lane.closed")
		return nil
	}
	return err
}

// Limited answers an update dropped by the rate limiter.
func (b *Bot) Limited(c tele.Context) error {
	return ui.SlowDown.Send(c)
}

// UnknownText implements ui.Fallbacks.
func (b *Bot) UnknownText() tele.HandlerFunc { return b.Forward }

// UnknownDocument implements ui.Fallbacks. Only the caption of a file
// reaches the engine, which re-prompts when it is empty.
func (b *Bot) UnknownDocument() tele.HandlerFunc { return b.Forward }

// UnknownCallback implements ui.Fallbacks.
func (b *Bot) UnknownCallback() tele.HandlerFunc {
	return ui.Unsupported.Toast
}
