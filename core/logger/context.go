package logger

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

type ctxKey struct{}

// scope carries the identifiers every log line of an update inherits.
type scope struct {
	log      *slog.Logger
	rid      string
	updateID int
	userID   int64
	chatID   int64
	handler  string
	recordID string
}

func scopeFrom(ctx context.Context) scope {
	if ctx == nil {
		return scope{}
	}
	s, _ := ctx.Value(ctxKey{}).(scope)
	return s
}

func withScope(ctx context.Context, fn func(*scope)) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	s := scopeFrom(ctx)
	fn(&s)
	return context.WithValue(ctx, ctxKey{}, s)
}

// WithLogger stores log in ctx for FromContext.
func WithLogger(ctx context.Context, log *slog.Logger) context.Context {
	if log == nil {
		if ctx == nil {
			return context.Background()
		}
		return ctx
	}
	return withScope(ctx, func(s *scope) { s.log = log })
}

// FromContext returns the logger stored in ctx, or L.
func FromContext(ctx context.Context) *slog.Logger {
	if l := scopeFrom(ctx).log; l != nil {
		return l
	}
	return L
}

// WithRID attaches the request correlation id.
func WithRID(ctx context.Context, rid string) context.Context {
	return withScope(ctx, func(s *scope) { s.rid = rid })
}

// WithUpdateMeta attaches the identifiers of a Telegram update.
func WithUpdateMeta(ctx context.Context, updateID int, userID, chatID int64) context.Context {
	return withScope(ctx, func(s *scope) {
		s.updateID = updateID
		s.userID = userID
		s.chatID = chatID
	})
}

// WithHandler names the handler serving the update. Empty names are ignored.
func WithHandler(ctx context.Context, handler string) context.Context {
	if handler == "" {
		if ctx == nil {
			return context.Background()
		}
		return ctx
	}
	return withScope(ctx, func(s *scope) { s.handler = handler })
}

// WithRecordID attaches the idempotency key of a completed record.
func WithRecordID(ctx context.Context, recordID string) context.Context {
	if recordID == "" {
		if ctx == nil {
			return context.Background()
		}
		return ctx
	}
	return withScope(ctx, func(s *scope) { s.recordID = recordID })
}

func RIDFrom(ctx context.Context) string      { return scopeFrom(ctx).rid }
func UpdateIDFrom(ctx context.Context) int    { return scopeFrom(ctx).updateID }
func UserIDFrom(ctx context.Context) int64    { return scopeFrom(ctx).userID }
func ChatIDFrom(ctx context.Context) int64    { return scopeFrom(ctx).chatID }
func HandlerFrom(ctx context.Context) string  { return scopeFrom(ctx).handler }
func RecordIDFrom(ctx context.Context) string { return scopeFrom(ctx).recordID }

// contextFields copies scope identifiers into fields without overriding
// explicit attributes.
func contextFields(ctx context.Context, fields map[string]any) {
	s := scopeFrom(ctx)
	set := func(key string, v any, present bool) {
		if !present {
			return
		}
		if _, ok := fields[key]; !ok {
			fields[key] = v
		}
	}
	set("rid", s.rid, s.rid != "")
	set("record_id", s.recordID, s.recordID != "")
	set("user_id", s.userID, s.userID != 0)
	set("update_id", int64(s.updateID), s.updateID != 0)
	set("chat_id", s.chatID, s.chatID != 0)
	set("handler", s.handler, s.handler != "")
}

// BuildRID returns a correlation id of the form updateID:chatID:userID.
func BuildRID(updateID int, chatID, userID int64) string {
	return fmt.Sprintf("%d:%d:%d", updateID, chatID, userID)
}

// CompactRID renders a BuildRID value as dot-separated base36 segments.
// Other input is returned unchanged.
func CompactRID(rid string) string {
	rid = strings.TrimSpace(rid)
	parts := strings.Split(rid, ":")
	if len(parts) != 3 {
		return rid
	}
	for i, p := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return rid
		}
		parts[i] = strconv.FormatInt(n, 36)
	}
	return strings.Join(parts, ".")
}
