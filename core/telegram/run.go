package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	coreconfig "github.com/m3rciful/onboardbot/core/config"
	"github.com/m3rciful/onboardbot/core/logger"
	tghelpers "github.com/m3rciful/onboardbot/core/telegram/helpers"
	tgsender "github.com/m3rciful/onboardbot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

// Middleware describes a global bot middleware to be registered via bot.Use.
type Middleware struct {
	Name string
	Use  func(next tele.HandlerFunc) tele.HandlerFunc
}

// Route declares a single bot handler bound to an arbitrary endpoint.
// Endpoint values are passed directly to tele.Bot.Handle.
type Route struct {
	Endpoint any
	Handler  tele.HandlerFunc
}

// RunOptions controls the behaviour of RunTelegram.
type RunOptions struct {
	Config *coreconfig.Config
	// Bot is built from Config when nil.
	Bot      *tele.Bot
	Registry *Registry

	DispatcherOptions tgsender.Options
	Dispatcher        *tgsender.Dispatcher

	Middlewares []Middleware
	Routes      []Route

	DisableWebhookCleanup bool

	OnStart func(ctx context.Context, rt Runtime) error
	OnStop  func(ctx context.Context, rt Runtime) error
}

// Runtime exposes runtime components to lifecycle hooks.
type Runtime struct {
	Bot        *tele.Bot
	Dispatcher *tgsender.Dispatcher
	Registry   *Registry
}

// NewBot creates a bot for cfg without starting it. Updates are processed
// synchronously in arrival order.
func NewBot(cfg *coreconfig.Config) (*tele.Bot, error) {
	if cfg == nil {
		return nil, fmt.Errorf("telegram: nil config provided")
	}
	settings := tele.Settings{
		Token:  cfg.Telegram.Token,
		Poller: NewPoller(cfg),
		Client: BuildHTTPClient(HTTPClientOptions{Timeout: pollTimeout(cfg) + defaultClientTimeout}),
		// Handlers only hand updates to per-user lanes, so ordering is kept cheaply.
		Synchronous: true,
		OnError: func(err error, c tele.Context) {
			lctx := context.Background()
			if c != nil {
				lctx = tghelpers.BuildContext(c)
			}
			logger.LogEvent(lctx, logger.TG, slog.LevelError, "tg.handler.error",
				slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			)
		},
	}

	start := time.Now()
	bot, err := tele.NewBot(settings)
	if err != nil {
		return nil, fmt.Errorf("telegram: bot initialization failed: %w", err)
	}
	logger.TG.Info("bot ready",
		slog.String("event", "bot.init"),
		slog.String("username", bot.Me.Username),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	)
	return bot, nil
}

// RunTelegram composes and runs a Telegram bot until the provided context is done.
func RunTelegram(ctx context.Context, opts RunOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := compose(opts)
	if err != nil {
		return err
	}
	defer func() {
		rt.Dispatcher.Close()
		tghelpers.SetDispatcher(nil)
	}()

	if opts.OnStart != nil {
		if err := opts.OnStart(ctx, rt); err != nil {
			return err
		}
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		rt.Bot.Start()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		rt.Bot.Stop()
		<-stopped
		if !errors.Is(ctx.Err(), context.Canceled) {
			runErr = ctx.Err()
		}
	case <-stopped:
	}

	if opts.OnStop != nil {
		if err := opts.OnStop(context.WithoutCancel(ctx), rt); err != nil {
			return err
		}
	}
	return runErr
}

// compose builds the runtime and installs middlewares, routes and the
// command menu. Middlewares are installed before routes so they apply to all.
func compose(opts RunOptions) (Runtime, error) {
	cfg := opts.Config
	if cfg == nil {
		return Runtime{}, fmt.Errorf("telegram: nil config provided")
	}
	rt := Runtime{Bot: opts.Bot, Dispatcher: opts.Dispatcher, Registry: opts.Registry}
	if rt.Registry == nil {
		rt.Registry = NewRegistry()
	}
	if rt.Bot == nil {
		bot, err := NewBot(cfg)
		if err != nil {
			return Runtime{}, err
		}
		rt.Bot = bot
	}
	if rt.Dispatcher == nil {
		rt.Dispatcher = tgsender.NewDispatcher(opts.DispatcherOptions)
	}
	tghelpers.SetDispatcher(rt.Dispatcher)

	if _, webhook := rt.Bot.Poller.(*tele.Webhook); !webhook && !opts.DisableWebhookCleanup {
		removeWebhook(rt.Bot)
	}
	logMode(rt.Bot, cfg)

	for _, mw := range opts.Middlewares {
		if mw.Use != nil {
			rt.Bot.Use(mw.Use)
		}
	}
	for _, route := range opts.Routes {
		if route.Endpoint != nil && route.Handler != nil {
			rt.Bot.Handle(route.Endpoint, route.Handler)
		}
	}
	InitBotCommands(rt.Bot, rt.Registry, cfg.Telegram.AdminID)
	return rt, nil
}

func logMode(bot *tele.Bot, cfg *coreconfig.Config) {
	attrs := []slog.Attr{slog.String("event", "mode")}
	if wh, ok := bot.Poller.(*tele.Webhook); ok {
		attrs = append(attrs,
			slog.String("mode", coreconfig.RunModeWebhook),
			slog.String("listen", wh.Listen),
			slog.Bool("secret", wh.SecretToken != ""),
		)
	} else {
		attrs = append(attrs,
			slog.String("mode", coreconfig.RunModeLongpoll),
			slog.Duration("poll_timeout", pollTimeout(cfg)),
		)
	}
	logger.TG.LogAttrs(context.Background(), slog.LevelInfo, "transport mode", attrs...)
}

// removeWebhook clears a webhook left by a previous webhook-mode deployment so
// getUpdates is not rejected. Pending updates are kept.
func removeWebhook(bot *tele.Bot) {
	if err := bot.RemoveWebhook(false); err != nil {
		logger.TG.Warn("failed to delete webhook",
			slog.String("event", "delete_webhook"),
			slog.String("mode", coreconfig.RunModeLongpoll),
			slog.String("err", err.Error()),
		)
		return
	}
	logger.TG.Info("webhook deleted",
		slog.String("event", "delete_webhook"),
		slog.String("mode", coreconfig.RunModeLongpoll),
	)
}
