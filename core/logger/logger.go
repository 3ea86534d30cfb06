// Package logger provides the process-wide structured logger: a slog
// handler with a stable key order, PII masking and an async writer.
package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/m3rciful/onboardbot/core/buildinfo"
	coreconfig "github.com/m3rciful/onboardbot/core/config"
)

var (
	initOnce sync.Once
	closeMu  sync.Mutex
	closed   bool

	out   *asyncWriter
	files []io.Closer
	level slog.LevelVar
	trace bool

	sampler = newRatioSampler(1, 50)

	// L is the root logger. It discards everything until InitLogger runs,
	// so packages may log from tests.
	L = slog.New(discardHandler{})

	TG     = L // Telegram updates and API calls
	TWire  = L // handler and command registration
	Sender = L // outbound queue
	DB     = L
	MIG    = L
	Engine = L
	Sink   = L
	Store  = L
)

// components binds each package logger to its component label.
var components = []struct {
	dst  **slog.Logger
	name string
}{
	{&TG, "tg"},
	{&TWire, "tg.wire"},
	{&Sender, "tg.sender"},
	{&DB, "db"},
	{&MIG, "db.migrate"},
	{&Engine, "engine"},
	{&Sink, "sink"},
	{&Store, "store"},
}

// settings is the part of the configuration the logger acts on.
type settings struct {
	level      slog.Level
	format     logFormat
	order      []string
	num, den   int
	profile    string
	filePath   string
	traceForce bool
}

func settingsFrom(cfg *coreconfig.Config) settings {
	s := settings{
		level:   slog.LevelInfo,
		format:  formatJSON,
		order:   append([]string(nil), defaultKeyOrder...),
		num:     1,
		den:     50,
		profile: "prod",
	}
	s.traceForce = truthy(os.Getenv("TRACE")) || truthy(os.Getenv("LOG_TRACE"))
	if cfg == nil {
		return s
	}
	lc := cfg.Logging

	if p := strings.ToLower(strings.TrimSpace(lc.Profile)); p != "" {
		s.profile = p
	}
	switch strings.ToLower(strings.TrimSpace(lc.Level)) {
	case "debug":
		s.level = slog.LevelDebug
	case "warn", "warning":
		s.level = slog.LevelWarn
	case "error":
		s.level = slog.LevelError
	}
	switch strings.ToLower(strings.TrimSpace(lc.Format)) {
	case "kv", "text", "pretty":
		s.format = formatKV
	case "":
		if s.profile == "debug" || s.profile == "dev" {
			s.format = formatKV
		}
	}
	if raw := strings.TrimSpace(lc.KeysOrder); raw != "" && raw != "default" {
		var order []string
		for _, k := range strings.Split(raw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				order = append(order, k)
			}
		}
		if len(order) > 0 {
			s.order = order
		}
	}
	if spec := strings.TrimSpace(lc.DebugSample); spec != "" {
		switch num, den := parseRatioSpec(spec); {
		case num == 0 && den == 0:
			s.num, s.den = 0, 0
		case num > 0 && den > 0:
			s.num, s.den = num, den
		}
	}
	if dir, file := strings.TrimSpace(lc.Dir), strings.TrimSpace(lc.BotFile); dir != "" && file != "" {
		s.filePath = filepath.Join(dir, file)
	}
	return s
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

// InitLogger installs the structured logger. Calls after the first are no-ops.
func InitLogger(cfg *coreconfig.Config) error {
	var err error
	initOnce.Do(func() {
		s := settingsFrom(cfg)
		level.Set(s.level)
		sampler.Set(s.num, s.den)
		trace = s.traceForce

		writers := []io.Writer{os.Stdout}
		if s.filePath != "" {
			f, ferr := openLogFile(s.filePath)
			if ferr != nil {
				// stdout keeps working; the caller decides whether that is fatal.
				err = ferr
			} else {
				writers = append(writers, f)
				files = append(files, f)
			}
		}
		out = newAsyncWriter(writers, 64*1024)

		L = slog.New(newStructuredHandler(handlerConfig{
			level:    &level,
			writer:   out,
			format:   s.format,
			keyOrder: s.order,
		}))
		slog.SetDefault(L)
		for _, c := range components {
			*c.dst = L.With("component", c.name)
		}

		attrs := []slog.Attr{
			slog.String("component", "app"),
			slog.String("go_version", runtime.Version()),
			slog.String("build_version", buildinfo.Version),
			slog.String("build_commit", buildinfo.Commit),
			slog.String("cfg_profile", s.profile),
			slog.String("log_format", string(s.format)),
		}
		if cfg != nil {
			attrs = append(attrs,
				slog.String("mode", cfg.Telegram.RunMode),
				slog.String("sink", cfg.Sink.Kind),
				slog.String("store", cfg.Session.Backend),
			)
		}
		LogEvent(context.Background(), L, slog.LevelInfo, "startup", attrs...)
	})
	return err
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("logger: create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logger: open log file: %w", err)
	}
	return f, nil
}

// Shutdown flushes pending output and closes log files. It is idempotent.
func Shutdown() error {
	closeMu.Lock()
	defer closeMu.Unlock()
	if closed {
		return nil
	}
	closed = true

	var errs []error
	if out != nil {
		errs = append(errs, out.Flush(), out.Close())
	}
	for _, f := range files {
		errs = append(errs, f.Close())
	}
	return errors.Join(errs...)
}

// LogEvent writes attrs under the given event name. A nil logg falls back to
// the logger carried by ctx.
func LogEvent(ctx context.Context, logg *slog.Logger, lvl slog.Level, event string, attrs ...slog.Attr) {
	if logg == nil {
		logg = FromContext(ctx)
	}
	if event != "" {
		attrs = append([]slog.Attr{slog.String("event", event)}, attrs...)
	}
	logg.LogAttrs(ctx, lvl, "", attrs...)
}

// ShouldSampleDebug reports whether a high-volume debug line should be
// written. TRACE=1 forces every line through.
func ShouldSampleDebug() bool {
	return trace || sampler.Allow()
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
