package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/m3rciful/onboardbot/core/logger"
	"github.com/m3rciful/onboardbot/core/metrics"
	tghelpers "github.com/m3rciful/onboardbot/core/telegram/helpers"
	"github.com/m3rciful/onboardbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// step is one routed handler as it appears in logs and handler metrics.
type step struct {
	name   string
	extras []slog.Attr
}

func newStep(kind, key string, extras ...slog.Attr) step {
	if key == "" {
		return step{name: kind, extras: extras}
	}
	return step{name: kind + "." + slug(key), extras: extras}
}

// run calls h and records a single summary line for the update.
func (s step) run(c tele.Context, start time.Time, h tele.HandlerFunc) error {
	tghelpers.WithHandler(c, s.name)
	err := h(c)
	status := "ok"
	if err != nil {
		status = "fail"
	}
	s.record(c, start, status, err)
	return err
}

// skip records an update that no handler took.
func (s step) skip(c tele.Context, start time.Time) {
	s.record(c, start, "skip", nil)
}

func (s step) record(c tele.Context, start time.Time, status string, err error) {
	took := time.Since(start)
	metrics.RecordHandler(s.name, status, took)

	msgs, kb := middleware.GetCounters(c)
	attrs := append([]slog.Attr{
		slog.String("status", status),
		slog.String("handler", s.name),
		slog.Int("messages", msgs),
		slog.Bool("kb", kb),
		slog.Int64("duration_ms", logger.RoundMS(took).Milliseconds()),
	}, s.extras...)
	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelWarn
		attrs = append(attrs,
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			slog.String("err_code", errorCode(err)),
		)
	}
	logger.LogEvent(tghelpers.WithHandler(c, s.name), logger.TG, level, "handler.handled", attrs...)
}

// slug lowercases a command or callback key for use in a handler name.
func slug(key string) string {
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	if key == "" {
		return "unknown"
	}
	return strings.ToLower(strings.ReplaceAll(key, " ", "_"))
}

// errorCode gives err a short upper-case label for log queries.
func errorCode(err error) string {
	if err == nil {
		return ""
	}
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		if code := strings.TrimSpace(coded.Code()); code != "" {
			return strings.ToUpper(strings.ReplaceAll(code, " ", "_"))
		}
	}
	var apiErr *tele.Error
	switch {
	case errors.As(err, &apiErr):
		return fmt.Sprintf("TG_%d", apiErr.Code)
	case errors.Is(err, context.DeadlineExceeded):
		return "TIMEOUT"
	case errors.Is(err, context.Canceled):
		return "CANCELLED"
	}
	name := strings.TrimLeft(fmt.Sprintf("%T", err), "*")
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	if name == "" {
		return "UNKNOWN_ERROR"
	}
	return strings.ToUpper(name)
}
