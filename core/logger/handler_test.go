package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func newTestLogger(t *testing.T, format logFormat) (*slog.Logger, func() string) {
	t.Helper()
	buf := &bytes.Buffer{}
	aw := newAsyncWriter([]io.Writer{buf}, 1024)
	h := newStructuredHandler(handlerConfig{level: slog.LevelDebug, writer: aw, format: format})
	read := func() string {
		if err := aw.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
		return strings.TrimSpace(buf.String())
	}
	return slog.New(h), read
}

func TestKVLineFollowsKeyOrder(t *testing.T) {
	log, read := newTestLogger(t, formatKV)
	ctx := WithUpdateMeta(WithRID(context.Background(), "rid-123"), 42, 7, 9)

	LogEvent(ctx, log.With("component", "engine"), slog.LevelInfo, "session.start",
		slog.String("zeta", "last"),
		slog.String("status", "ok"),
	)

	tokens := strings.Split(read(), " ")
	want := []string{"ts=", "level=INFO", "component=engine", "event=session.start", "status=ok", "rid=rid-123", "update_id=42", "user_id=7", "chat_id=9"}
	if len(tokens) < len(want)+1 {
		t.Fatalf("unexpected tokens: %v", tokens)
	}
	for i, prefix := range want {
		if !strings.HasPrefix(tokens[i], prefix) {
			t.Fatalf("token %d = %s, expected prefix %s", i, tokens[i], prefix)
		}
	}
	if tokens[len(tokens)-1] != "zeta=last" {
		t.Fatalf("unknown keys should come last: %v", tokens)
	}
}

func TestJSONLineCompactsRID(t *testing.T) {
	log, read := newTestLogger(t, formatJSON)
	ctx := WithRID(context.Background(), "12:34:56")
	LogEvent(ctx, log, slog.LevelInfo, "rid.test")

	var got map[string]any
	if err := json.Unmarshal([]byte(read()), &got); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if got["rid"] != CompactRID("12:34:56") || got["rid_full"] != "12:34:56" {
		t.Fatalf("unexpected rid fields: %v", got)
	}
	if _, ok := got["ts_unix_nano"]; !ok {
		t.Fatalf("ts_unix_nano missing: %v", got)
	}
	if got["component"] != "app" {
		t.Fatalf("component default missing: %v", got)
	}
}

func TestKVLineOmitsFullRID(t *testing.T) {
	log, read := newTestLogger(t, formatKV)
	LogEvent(WithRID(context.Background(), "123:456:789"), log, slog.LevelInfo, "rid.test")
	line := read()
	if !strings.Contains(line, "rid="+CompactRID("123:456:789")) || strings.Contains(line, "rid_full=") {
		t.Fatalf("unexpected rid rendering: %s", line)
	}
}

func TestRecordIDAndDurations(t *testing.T) {
	log, read := newTestLogger(t, formatKV)
	ctx := WithUpdateMeta(WithRecordID(context.Background(), "rec-1"), 0, 77, 77)

	LogEvent(ctx, log.With("component", "sink"), slog.LevelInfo, "sink.append",
		slog.String("status", "error"),
		slog.Duration("duration", 1500*time.Microsecond),
		slog.Duration("backoff", 2*time.Second),
	)

	line := read()
	for _, want := range []string{"record_id=rec-1", "user_id=77", "duration_ms=2", "backoff_ms=2000", "status=fail"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %s", want, line)
		}
	}
	if strings.Index(line, "user_id=") > strings.Index(line, "record_id=") {
		t.Fatalf("user_id should precede record_id: %s", line)
	}
}

func TestAnswersAreMasked(t *testing.T) {
	log, read := newTestLogger(t, formatKV)
	log.Info("answer.reject", slog.String("answer", "john@example.com"), slog.String("field", "email"))
	line := read()
	if strings.Contains(line, "john@example.com") {
		t.Fatalf("answer leaked: %s", line)
	}
	if !strings.Contains(line, "answer=j"+strings.Repeat("*", 14)+"m") || !strings.Contains(line, "field=email") {
		t.Fatalf("unexpected line: %s", line)
	}
}

func TestGroupsBecomeDottedKeys(t *testing.T) {
	log, read := newTestLogger(t, formatKV)
	log.With("component", "store").WithGroup("redis").Info("store.get", slog.Int("db", 2), slog.Group("pool", slog.Int("idle", 3)))
	line := read()
	for _, want := range []string{"component=store", "redis.db=2", "redis.pool.idle=3"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %s", want, line)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	aw := newAsyncWriter([]io.Writer{buf}, 0)
	h := newStructuredHandler(handlerConfig{level: slog.LevelWarn, writer: aw, format: formatKV})
	log := slog.New(h)
	log.Info("quiet")
	log.Warn("loud")
	if err := aw.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	out := buf.String()
	if strings.Contains(out, "quiet") || !strings.Contains(out, "event=loud") {
		t.Fatalf("unexpected output: %s", out)
	}
	_ = aw.Close()
}

func TestCompactRID(t *testing.T) {
	if got := CompactRID("35:36:0"); got != "z.10.0" {
		t.Fatalf("CompactRID = %s", got)
	}
	if got := CompactRID("not-a-rid"); got != "not-a-rid" {
		t.Fatalf("CompactRID should keep unknown input, got %s", got)
	}
}

func TestMask(t *testing.T) {
	cases := map[string]string{"": "", "abc": "***", "9876543210": "9********0", " Ana Maria ": "A*******a"}
	for in, want := range cases {
		if got := Mask(in); got != want {
			t.Fatalf("Mask(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitizeLimit(t *testing.T) {
	if got := SanitizeLimit("a\x00b\u200bc\td", 10); got != "abc\td" {
		t.Fatalf("Sanitize = %q", got)
	}
	if got := SanitizeLimit("привет", 3); got != "при" {
		t.Fatalf("SanitizeLimit = %q", got)
	}
}

func TestRatioSampler(t *testing.T) {
	s := newRatioSampler(1, 3)
	var passed int
	for range 9 {
		if s.Allow() {
			passed++
		}
	}
	if passed != 3 {
		t.Fatalf("passed = %d, want 3", passed)
	}
	s.Set(0, 0)
	if !s.Allow() {
		t.Fatal("disabled sampler must allow everything")
	}
	if n, d := parseRatioSpec("2/5"); n != 2 || d != 5 {
		t.Fatalf("parseRatioSpec(2/5) = %d/%d", n, d)
	}
	if n, d := parseRatioSpec("20"); n != 1 || d != 20 {
		t.Fatalf("parseRatioSpec(20) = %d/%d", n, d)
	}
}

func TestContextScopeDoesNotLeak(t *testing.T) {
	base := WithRID(context.Background(), "r1")
	child := WithHandler(base, "cmd.start")
	if HandlerFrom(base) != "" || HandlerFrom(child) != "cmd.start" || RIDFrom(child) != "r1" {
		t.Fatal("scope values must be copied per context")
	}
	if FromContext(context.Background()) != L {
		t.Fatal("empty context must fall back to L")
	}
}
