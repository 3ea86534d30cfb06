// Package cmd runs an assembled bot process: configuration, signals, the
// Telegram loop and its sidecar services.
package cmd

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	coreconfig "github.com/m3rciful/onboardbot/core/config"
	"github.com/m3rciful/onboardbot/core/logger"
	coretelegram "github.com/m3rciful/onboardbot/core/telegram"
)

// Service is a long-running component started next to the bot. Run must
// return once ctx is done.
type Service struct {
	Name string
	Run  func(ctx context.Context) error
}

// TelegramApp is what Bootstrap hands back to Run.
type TelegramApp interface {
	TelegramRunOptions() (coretelegram.RunOptions, error)
	Services() []Service
	Close(ctx context.Context) error
}

// Options wires Run. LoadConfig and Bootstrap are required.
type Options struct {
	// Context is the parent of the signal-aware run context.
	Context context.Context

	// ConfigEnvVar names the variable holding the config path (CONFIG_PATH).
	ConfigEnvVar      string
	DefaultConfigPath string

	LoadConfig func(path string) (*coreconfig.Config, error)
	Bootstrap  func(ctx context.Context, cfg *coreconfig.Config) (TelegramApp, error)

	ShutdownLogger  func() error
	RunTelegram     func(ctx context.Context, opts coretelegram.RunOptions) error
	ShutdownTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Context == nil {
		o.Context = context.Background()
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = 15 * time.Second
	}
	o.ConfigEnvVar = cmp.Or(o.ConfigEnvVar, "CONFIG_PATH")
	if o.ShutdownLogger == nil {
		o.ShutdownLogger = logger.Shutdown
	}
	if o.RunTelegram == nil {
		o.RunTelegram = coretelegram.RunTelegram
	}
	return o
}

func (o Options) configPath() string {
	return cmp.Or(os.Getenv(o.ConfigEnvVar), o.DefaultConfigPath)
}

// Run loads configuration, bootstraps the app, then runs the bot and the
// app's services until SIGINT/SIGTERM or the first failure.
func Run(opts Options) error {
	switch {
	case opts.LoadConfig == nil:
		return errors.New("cmd: LoadConfig is required")
	case opts.Bootstrap == nil:
		return errors.New("cmd: Bootstrap is required")
	}
	opts = opts.withDefaults()

	path := opts.configPath()
	cfg, err := opts.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("cmd: load config %q: %w", path, err)
	}

	ctx, stop := signal.NotifyContext(opts.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	began := time.Now()
	app, err := opts.Bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("cmd: bootstrap: %w", err)
	}
	defer func() {
		if err := opts.ShutdownLogger(); err != nil {
			// The structured logger is gone at this point.
			log.Printf("logger shutdown: %v", err)
		}
	}()
	defer closeApp(app, opts.ShutdownTimeout)

	runOpts, err := app.TelegramRunOptions()
	if err != nil {
		return fmt.Errorf("cmd: telegram options: %w", err)
	}
	announce(&runOpts, began)
	return supervise(ctx, opts.RunTelegram, runOpts, app.Services())
}

func closeApp(app TelegramApp, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := app.Close(ctx); err != nil {
		logger.LogEvent(ctx, logger.L, slog.LevelWarn, "close",
			slog.String("component", "app"),
			slog.String("err", err.Error()),
		)
	}
}

// announce logs readiness after the app's OnStart succeeds and the start of
// shutdown before its OnStop runs.
func announce(ro *coretelegram.RunOptions, began time.Time) {
	onStart, onStop := ro.OnStart, ro.OnStop
	ro.OnStart = func(ctx context.Context, rt coretelegram.Runtime) error {
		if onStart != nil {
			if err := onStart(ctx, rt); err != nil {
				return err
			}
		}
		logger.LogEvent(ctx, logger.L, slog.LevelInfo, "ready",
			slog.String("component", "app"),
			slog.Duration("startup_duration", logger.RoundMS(time.Since(began))),
		)
		return nil
	}
	ro.OnStop = func(ctx context.Context, rt coretelegram.Runtime) error {
		logger.LogEvent(ctx, logger.L, slog.LevelInfo, "shutdown",
			slog.String("component", "app"),
		)
		if onStop == nil {
			return nil
		}
		return onStop(ctx, rt)
	}
}

// supervise runs the bot and services together. Whichever ends first, by
// error or by the bot returning, cancels the rest.
func supervise(
	ctx context.Context,
	run func(context.Context, coretelegram.RunOptions) error,
	ro coretelegram.RunOptions,
	services []Service,
) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		if err := run(gctx, ro); err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		return nil
	})
	for _, svc := range services {
		if svc.Run == nil {
			continue
		}
		g.Go(func() error {
			if err := svc.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s: %w", svc.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}
