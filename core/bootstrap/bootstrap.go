package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"

	coreconfig "github.com/m3rciful/onboardbot/core/config"
	coredatabase "github.com/m3rciful/onboardbot/core/database"
	"github.com/m3rciful/onboardbot/core/logger"
	"github.com/m3rciful/onboardbot/core/telegram/state"
	"github.com/m3rciful/onboardbot/onboarding/script"
	"github.com/m3rciful/onboardbot/onboarding/sink"
)

// Options control the bootstrap pipeline. Nil hooks use the real implementations.
type Options struct {
	Config *coreconfig.Config

	LoggerInit func(*coreconfig.Config) error
	Connect    func(context.Context, coredatabase.Config) (*sqlx.DB, error)
	Migrate    func(context.Context, coredatabase.Config) error
	NewSheets  func(context.Context, sink.SheetsConfig) (sink.Sink, error)
}

// Result exposes infrastructure initialized by the bootstrap pipeline.
type Result struct {
	Store  state.Store
	Script *script.Script
	Sink   sink.Sink
	// DB is set only for the postgres sink.
	DB *sqlx.DB

	closers []func() error
}

// Close releases connections opened by Run in reverse order.
func (r *Result) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// Run initializes the logger, the question script, the session store and
// the record sink. On error everything opened so far is closed.
func Run(ctx context.Context, opts Options) (*Result, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}

	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = logger.InitLogger
	}
	if err := loggerInit(cfg); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	res := &Result{}
	fail := func(err error) (*Result, error) {
		_ = res.Close()
		return nil, err
	}

	sc, err := LoadScript(cfg.Onboarding.ScriptPath)
	if err != nil {
		return fail(fmt.Errorf("bootstrap: %w", err))
	}
	res.Script = sc

	if err := buildStore(ctx, cfg, res); err != nil {
		return fail(fmt.Errorf("bootstrap: session store: %w", err))
	}
	if err := buildSink(ctx, cfg, opts, res); err != nil {
		return fail(fmt.Errorf("bootstrap: sink: %w", err))
	}

	logger.L.Info("bootstrap complete",
		slog.String("component", "app"),
		slog.String("event", "bootstrap"),
		slog.String("store", cfg.Session.Backend),
		slog.String("sink", res.Sink.Name()),
		slog.Int("questions", res.Script.Len()),
	)
	return res, nil
}

// LoadScript returns the script at path, or the built-in questionnaire when
// path is empty.
func LoadScript(path string) (*script.Script, error) {
	if strings.TrimSpace(path) == "" {
		return script.Default(), nil
	}
	sc, err := script.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load script %s: %w", path, err)
	}
	return sc, nil
}

func buildStore(ctx context.Context, cfg *coreconfig.Config, res *Result) error {
	switch cfg.Session.Backend {
	case coreconfig.SessionRedis:
		rs, err := state.NewRedisStore(ctx, state.RedisConfig{
			Addr:     cfg.Session.RedisAddr,
			Password: cfg.Session.RedisPassword,
			DB:       cfg.Session.RedisDB,
			Prefix:   cfg.Session.RedisPrefix,
			// No key TTL: pending records must survive until the sink takes
			// them, and idle expiry is done by the sweeper.
		})
		if err != nil {
			return err
		}
		res.Store = rs
		res.closers = append(res.closers, rs.Close)
	default:
		res.Store = state.NewMemoryStore()
	}
	return nil
}

func buildSink(ctx context.Context, cfg *coreconfig.Config, opts Options, res *Result) error {
	switch cfg.Sink.Kind {
	case coreconfig.SinkPostgres:
		connect := opts.Connect
		if connect == nil {
			connect = coredatabase.Connect
		}
		migrate := opts.Migrate
		if migrate == nil {
			migrate = coredatabase.RunMigrations
		}

		db, err := connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("database initialization failed: %w", err)
		}
		res.DB = db
		res.closers = append(res.closers, db.Close)
		if err := migrate(ctx, cfg.Database); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
		res.Sink = sink.NewPostgres(db)
	default:
		newSheets := opts.NewSheets
		if newSheets == nil {
			newSheets = func(ctx context.Context, sc sink.SheetsConfig) (sink.Sink, error) {
				return sink.NewSheets(ctx, sc)
			}
		}
		s, err := newSheets(ctx, sink.SheetsConfig{
			SpreadsheetID:   cfg.Sheets.SpreadsheetID,
			SheetName:       cfg.Sheets.SheetName,
			CredentialsJSON: cfg.Sheets.CredentialsJSON,
		})
		if err != nil {
			return err
		}
		res.Sink = s
	}
	return nil
}
