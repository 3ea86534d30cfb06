package middleware

import (
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/onboardbot/core/logger"
	"github.com/m3rciful/onboardbot/core/metrics"
	"github.com/m3rciful/onboardbot/core/telegram/callbacks"
	tghelpers "github.com/m3rciful/onboardbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// Update kinds reported in logs and metrics.
const (
	KindMessage  = "message"
	KindCallback = "callback"
	KindOther    = "other"
)

// seenUpdates remembers update IDs for a short window so an update that
// passes several wrapped branches is counted once.
type seenUpdates struct {
	mu     sync.Mutex
	window time.Duration
	at     map[int]time.Time
	pruned time.Time
}

var receipts = &seenUpdates{window: 10 * time.Second, at: make(map[int]time.Time)}

// first reports whether id is new within the window and marks it seen.
func (s *seenUpdates) first(id int, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Sub(s.pruned) > s.window {
		for k, ts := range s.at {
			if now.Sub(ts) > s.window {
				delete(s.at, k)
			}
		}
		s.pruned = now
	}
	if ts, ok := s.at[id]; ok && now.Sub(ts) <= s.window {
		return false
	}
	s.at[id] = now
	return true
}

// UpdateKind classifies an update for logging, metrics and rate limit exclusions.
func UpdateKind(upd tele.Update) string {
	switch {
	case upd.Callback != nil:
		return KindCallback
	case upd.Message != nil:
		return KindMessage
	}
	return KindOther
}

// LoggerMiddleware gives every update a request context carrying its rid and
// records one receipt per update_id.
func LoggerMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		ctx := tghelpers.NewUpdateContext(c)
		upd := c.Update()
		if !receipts.first(upd.ID, time.Now()) {
			return next(c)
		}

		kind := UpdateKind(upd)
		metrics.RecordUpdate(kind)
		if logger.ShouldSampleDebug() {
			logger.LogEvent(ctx, logger.TG, slog.LevelDebug, "update.received", receiptAttrs(c, kind)...)
		}
		return next(c)
	}
}

func receiptAttrs(c tele.Context, kind string) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("status", "ok"),
		slog.String("kind", kind),
		slog.Int("update_id", c.Update().ID),
	}
	if chat := c.Chat(); chat != nil {
		attrs = append(attrs, slog.String("chat_type", string(chat.Type)))
	}
	if user := c.Sender(); user != nil {
		if user.Username != "" {
			attrs = append(attrs, slog.String("username", logger.SanitizeLimit(user.Username, 64)))
		}
		if user.LanguageCode != "" {
			attrs = append(attrs, slog.String("lang", user.LanguageCode))
		}
	}
	switch kind {
	case KindCallback:
		key, payload := callbacks.Parse(c.Callback())
		if key != "" {
			attrs = append(attrs, slog.String("cb_key", logger.SanitizeLimit(key, 128)))
		}
		if payload != "" {
			attrs = append(attrs, slog.String("payload", logger.SanitizeLimit(payload, 256)))
		}
	case KindMessage:
		// Answers carry personal data; only their size is logged.
		attrs = append(attrs, slog.Int("text_len", len(c.Text())))
	}
	return attrs
}
