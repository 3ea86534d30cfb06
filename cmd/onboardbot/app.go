package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/m3rciful/onboardbot/core/bootstrap"
	corecmd "github.com/m3rciful/onboardbot/core/cmd"
	coreconfig "github.com/m3rciful/onboardbot/core/config"
	"github.com/m3rciful/onboardbot/core/logger"
	"github.com/m3rciful/onboardbot/core/metrics"
	tg "github.com/m3rciful/onboardbot/core/telegram"
	"github.com/m3rciful/onboardbot/core/telegram/sender"
	"github.com/m3rciful/onboardbot/core/telegram/serial"
	"github.com/m3rciful/onboardbot/onboarding/bot"
	"github.com/m3rciful/onboardbot/onboarding/engine"

	tele "gopkg.in/telebot.v4"
)

const laneDrainTimeout = 10 * time.Second

// newBot is replaced in tests with an offline bot.
var newBot = tg.NewBot

// app holds everything built for one process lifetime.
type app struct {
	cfg        *coreconfig.Config
	res        *bootstrap.Result
	tele       *tele.Bot
	dispatcher *sender.Dispatcher
	registry   *tg.Registry
	lanes      *serial.Lanes
	engine     *engine.Engine
	bot        *bot.Bot
	sweeper    *engine.Sweeper
}

var _ corecmd.TelegramApp = (*app)(nil)

func buildApp(ctx context.Context, cfg *coreconfig.Config, opts bootstrap.Options) (*app, error) {
	opts.Config = cfg
	res, err := bootstrap.Run(ctx, opts)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, res: res}
	if err := a.wire(ctx); err != nil {
		a.dispose()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg
	b, err := newBot(cfg)
	if err != nil {
		return err
	}
	a.tele = b
	a.dispatcher = sender.NewDispatcher(sender.Options{MaxRetries: 3})

	transport, err := bot.NewTransport(b, a.dispatcher)
	if err != nil {
		return err
	}
	a.engine, err = engine.New(engine.Options{
		Store:              a.res.Store,
		Script:             a.res.Script,
		Sink:               a.res.Sink,
		Transport:          transport,
		SinkAttempts:       cfg.Sink.Attempts,
		SinkBackoff:        cfg.SinkBackoff(),
		IdleTTL:            cfg.Session.IdleTTL,
		EmployeeCodePrefix: cfg.Onboarding.EmployeeCodePrefix,
		HRUsername:         cfg.Onboarding.HRUsername,
		ImageURL:           cfg.Onboarding.ImageURL,
	})
	if err != nil {
		return err
	}

	a.lanes = serial.New(serial.Options{})
	a.bot, err = bot.New(bot.Options{
		Engine:    a.engine,
		Lanes:     a.lanes,
		Transport: transport,
		AdminID:   cfg.Telegram.AdminID,
		Context:   ctx,
	})
	if err != nil {
		return err
	}
	a.registry = tg.NewRegistry()
	if err := a.bot.Register(a.registry); err != nil {
		return fmt.Errorf("register handlers: %w", err)
	}

	a.sweeper, err = engine.NewSweeper(a.engine, cfg.Session.SweepSchedule)
	if err != nil {
		return err
	}
	metrics.InitMetrics()
	return nil
}

func (a *app) TelegramRunOptions() (tg.RunOptions, error) {
	if a.bot == nil {
		return tg.RunOptions{}, errors.New("app: not wired")
	}
	return tg.RunOptions{
		Config:      a.cfg,
		Bot:         a.tele,
		Registry:    a.registry,
		Dispatcher:  a.dispatcher,
		Middlewares: tg.DefaultMiddlewares(a.cfg, a.bot.Limited),
		Routes:      a.bot.Routes(a.registry),
		OnStop: func(ctx context.Context, _ tg.Runtime) error {
			drainCtx, cancel := context.WithTimeout(ctx, laneDrainTimeout)
			defer cancel()
			if err := a.lanes.Close(drainCtx); err != nil {
				logger.TG.Warn("lanes drain incomplete",
					slog.String("event", "lanes.drain"),
					slog.Int("active", a.lanes.Active()),
					slog.String("err", err.Error()),
				)
			}
			return nil
		},
	}, nil
}

func (a *app) Services() []corecmd.Service {
	svcs := []corecmd.Service{{Name: "sweeper", Run: a.sweeper.Run}}
	if listen := a.cfg.Metrics.Listen; listen != "" {
		handler := metrics.NewRouter(a.health)
		svcs = append(svcs, corecmd.Service{
			Name: "metrics",
			Run: func(ctx context.Context) error {
				return metrics.Serve(ctx, listen, handler)
			},
		})
	}
	return svcs
}

// health reports whether the session store and database answer.
func (a *app) health(ctx context.Context) error {
	if _, err := a.res.Store.List(ctx); err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	if a.res.DB != nil {
		if err := a.res.DB.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	return nil
}

func (a *app) Close(context.Context) error {
	return a.dispose()
}

func (a *app) dispose() error {
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	return a.res.Close()
}
