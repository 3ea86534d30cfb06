package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/m3rciful/onboardbot/core/logger"
	"github.com/m3rciful/onboardbot/core/metrics"
	"github.com/m3rciful/onboardbot/core/telegram/format"
	"github.com/m3rciful/onboardbot/core/telegram/state"
	"github.com/m3rciful/onboardbot/onboarding/script"
	"github.com/m3rciful/onboardbot/onboarding/sink"
)

const (
	cmdStart  = "/start"
	cmdCancel = "/cancel"
)

// Options wires the engine's collaborators.
type Options struct {
	Store     state.Store
	Script    *script.Script
	Sink      sink.Sink
	Transport Transport
	Texts     Texts

	// SinkAttempts bounds appends per flush (default 1).
	SinkAttempts int
	// SinkBackoff is multiplied by the attempt number between tries.
	SinkBackoff time.Duration
	// IdleTTL expires unfinished sessions during Sweep; 0 disables expiry.
	IdleTTL time.Duration

	EmployeeCodePrefix string
	HRUsername         string
	ImageURL           string

	Now   func() time.Time
	NewID func() string
}

// Engine is the onboarding state machine. It is safe for concurrent use;
// work for a single user is serialised.
type Engine struct {
	store     state.Store
	script    *script.Script
	sink      sink.Sink
	transport Transport
	texts     Texts

	attempts int
	backoff  time.Duration
	idleTTL  time.Duration

	codePrefix string
	hrUsername string
	imageURL   string

	now   func() time.Time
	newID func() string
	locks *userLocks
}

// New validates opts and builds an Engine.
func New(opts Options) (*Engine, error) {
	switch {
	case opts.Store == nil:
		return nil, errors.New("engine: store is required")
	case opts.Script == nil:
		return nil, errors.New("engine: script is required")
	case opts.Sink == nil:
		return nil, errors.New("engine: sink is required")
	case opts.Transport == nil:
		return nil, errors.New("engine: transport is required")
	}
	e := &Engine{
		store:      opts.Store,
		script:     opts.Script,
		sink:       opts.Sink,
		transport:  opts.Transport,
		texts:      opts.Texts.withDefaults(),
		attempts:   opts.SinkAttempts,
		backoff:    opts.SinkBackoff,
		idleTTL:    opts.IdleTTL,
		codePrefix: opts.EmployeeCodePrefix,
		hrUsername: strings.TrimPrefix(strings.TrimSpace(opts.HRUsername), "@"),
		imageURL:   strings.TrimSpace(opts.ImageURL),
		now:        opts.Now,
		newID:      opts.NewID,
		locks:      newUserLocks(),
	}
	if e.attempts <= 0 {
		e.attempts = 1
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newID == nil {
		e.newID = func() string { return uuid.NewString() }
	}
	return e, nil
}

// Handle processes one inbound message. Errors are returned only when the
// session store fails; user-facing problems are answered in chat.
func (e *Engine) Handle(ctx context.Context, m Message) error {
	unlock := e.locks.Lock(m.UserID)
	defer unlock()

	if m.ChatID == 0 {
		m.ChatID = m.UserID
	}
	s, ok, err := e.store.Get(ctx, m.UserID)
	if err != nil {
		e.logStoreError(ctx, m.UserID, "get", err)
		return err
	}
	if ok {
		s.ChatID = m.ChatID
	}

	cmd := commandOf(m.Text)
	switch {
	case cmd == cmdCancel:
		return e.cancel(ctx, m, s, ok)
	case ok && e.complete(s):
		return e.flush(ctx, s, true)
	case cmd == cmdStart:
		return e.start(ctx, m, s, ok)
	case cmd != "":
		return e.help(ctx, m, s, ok)
	case !ok:
		e.send(ctx, m.ChatID, Reply{Text: e.texts.StartHint})
		return nil
	default:
		return e.answer(ctx, s, m.Text)
	}
}

func (e *Engine) complete(s *state.Session) bool {
	return s.Step >= e.script.Len()
}

func (e *Engine) start(ctx context.Context, m Message, s *state.Session, ok bool) error {
	if ok && !s.Fresh() {
		e.send(ctx, m.ChatID, e.promptReply(s.Step, e.texts.InProgress))
		return nil
	}

	var created bool
	if !ok {
		var err error
		s, created, err = e.store.GetOrCreate(ctx, m.UserID)
		if err != nil {
			e.logStoreError(ctx, m.UserID, "create", err)
			return err
		}
	}
	now := e.now().UTC()
	s.ChatID = m.ChatID
	s.Step = 0
	s.Fields = make(map[string]string)
	s.CreatedAt = now
	s.UpdatedAt = now
	if err := e.store.Update(ctx, s); err != nil {
		e.logStoreError(ctx, m.UserID, "update", err)
		return err
	}
	if created {
		metrics.RecordSession("started")
	}
	logger.LogEvent(ctx, logger.Engine, slog.LevelInfo, "session.start",
		slog.String("status", "ok"),
		slog.Int64("user_id", m.UserID),
		slog.Bool("created", created),
	)
	e.send(ctx, m.ChatID, e.promptReply(0, e.texts.Welcome))
	return nil
}

func (e *Engine) cancel(ctx context.Context, m Message, s *state.Session, ok bool) error {
	if !ok {
		e.send(ctx, m.ChatID, Reply{Text: e.texts.NothingToCancel + "\n\n" + e.texts.Help, RemoveKeyboard: true})
		return nil
	}
	if err := e.store.Remove(ctx, m.UserID); err != nil {
		e.logStoreError(ctx, m.UserID, "remove", err)
		return err
	}
	metrics.RecordSession("cancelled")
	attrs := []slog.Attr{
		slog.String("status", "ok"),
		slog.Int64("user_id", m.UserID),
		slog.Int("step", s.Step),
	}
	if s.RecordID != "" {
		// A pending record is abandoned on explicit request only.
		attrs = append(attrs, slog.String("record_id", s.RecordID))
	}
	logger.LogEvent(ctx, logger.Engine, slog.LevelInfo, "session.cancel", attrs...)
	e.send(ctx, m.ChatID, Reply{Text: e.texts.Cancelled, RemoveKeyboard: true})
	return nil
}

func (e *Engine) help(ctx context.Context, m Message, s *state.Session, ok bool) error {
	if !ok {
		e.send(ctx, m.ChatID, Reply{Text: e.texts.Help + "\n\n" + e.texts.StartHint})
		return nil
	}
	e.send(ctx, m.ChatID, e.promptReply(s.Step, e.texts.Help))
	return nil
}

func (e *Engine) answer(ctx context.Context, s *state.Session, raw string) error {
	field, err := e.script.Field(s.Step)
	if err != nil {
		return fmt.Errorf("engine: session %d: %w", s.UserID, err)
	}

	value, valid, msg := e.script.ValidateAndTransform(s.Step, raw, s.Fields)
	metrics.RecordAnswer(field.Key, valid)
	s.UpdatedAt = e.now().UTC()

	if !valid {
		if err := e.store.Update(ctx, s); err != nil {
			e.logStoreError(ctx, s.UserID, "update", err)
			return err
		}
		logger.LogEvent(ctx, logger.Engine, slog.LevelDebug, "answer.reject",
			slog.Int64("user_id", s.UserID),
			slog.Int("step", s.Step),
			slog.String("field", field.Key),
			slog.String("answer", raw),
		)
		e.send(ctx, s.ChatID, e.promptReply(s.Step, msg))
		return nil
	}

	s.Fields[field.Key] = value
	s.Step++
	if !e.complete(s) {
		if err := e.store.Update(ctx, s); err != nil {
			e.logStoreError(ctx, s.UserID, "update", err)
			return err
		}
		e.send(ctx, s.ChatID, e.promptReply(s.Step, ""))
		return nil
	}

	s.RecordID = e.newID()
	s.CompletedAt = s.UpdatedAt
	if err := e.store.Update(ctx, s); err != nil {
		e.logStoreError(ctx, s.UserID, "update", err)
		return err
	}
	logger.LogEvent(logger.WithRecordID(ctx, s.RecordID), logger.Engine, slog.LevelInfo, "session.complete",
		slog.String("status", "pending"),
		slog.Int64("user_id", s.UserID),
	)
	return e.flush(ctx, s, true)
}

// flush appends the completed record. The session survives every failure so
// the record is retried on the next message or sweep.
func (e *Engine) flush(ctx context.Context, s *state.Session, notifyFailure bool) error {
	ctx = logger.WithRecordID(ctx, s.RecordID)
	rec := e.record(s)

	var err error
	for attempt := 1; attempt <= e.attempts; attempt++ {
		start := time.Now()
		err = e.sink.Append(ctx, rec)
		metrics.RecordSinkAppend(e.sink.Name(), err, time.Since(start))
		if err == nil {
			break
		}
		logger.LogEvent(ctx, logger.Sink, slog.LevelWarn, "sink.append.retry",
			slog.String("status", "fail"),
			slog.String("sink", e.sink.Name()),
			slog.Int64("user_id", s.UserID),
			slog.Int("attempt", attempt),
			slog.Int("attempts", e.attempts),
			slog.String("err", err.Error()),
		)
		if attempt < e.attempts && !sleep(ctx, e.backoff*time.Duration(attempt)) {
			break
		}
	}

	if err != nil {
		s.FlushAttempts++
		s.UpdatedAt = e.now().UTC()
		if uerr := e.store.Update(ctx, s); uerr != nil {
			e.logStoreError(ctx, s.UserID, "update", uerr)
		}
		logger.LogEvent(ctx, logger.Sink, slog.LevelError, "sink.append.fail",
			slog.String("status", "fail"),
			slog.String("sink", e.sink.Name()),
			slog.Int64("user_id", s.UserID),
			slog.Int("attempts", s.FlushAttempts),
			slog.String("err", err.Error()),
		)
		if notifyFailure {
			e.send(ctx, s.ChatID, Reply{Text: e.texts.SinkFailed, RemoveKeyboard: true})
		}
		return nil
	}

	if rerr := e.store.Remove(ctx, s.UserID); rerr != nil {
		// The record is stored; a leftover session is retried and deduplicated by sinks that support it.
		e.logStoreError(ctx, s.UserID, "remove", rerr)
	}
	metrics.RecordSession("completed")
	logger.LogEvent(ctx, logger.Sink, slog.LevelInfo, "sink.append",
		slog.String("status", "ok"),
		slog.String("sink", e.sink.Name()),
		slog.Int64("user_id", s.UserID),
	)
	e.acknowledge(ctx, s.ChatID, rec)
	return nil
}

func (e *Engine) acknowledge(ctx context.Context, chatID int64, rec sink.Record) {
	var b strings.Builder
	b.WriteString(e.texts.Done)
	b.WriteString("\n\n")
	b.WriteString(e.texts.SummaryTitle)
	for _, v := range rec.Fields {
		fmt.Fprintf(&b, "\n%s: %s", v.Column, v.Value)
	}
	e.send(ctx, chatID, Reply{Text: b.String(), RemoveKeyboard: true})

	code := format.Markdown(rec.EmployeeCode)
	e.send(ctx, chatID, Reply{Text: fmt.Sprintf(e.texts.EmployeeCode, code), Markdown: true})

	if e.imageURL != "" {
		if err := e.transport.Send(ctx, chatID, Reply{Photo: e.imageURL}); err != nil {
			e.logSendError(ctx, chatID, err)
			e.send(ctx, chatID, Reply{Text: e.texts.PhotoError})
		}
	}
	if e.hrUsername != "" {
		e.send(ctx, chatID, Reply{Text: fmt.Sprintf(e.texts.HRContact, e.hrUsername)})
	}
}

// record builds the sink payload; its ID and timestamp are fixed at completion.
func (e *Engine) record(s *state.Session) sink.Record {
	fields := e.script.Fields()
	values := make([]sink.Value, 0, len(fields))
	phone := ""
	for _, f := range fields {
		v := s.Fields[f.Key]
		if phone == "" && f.Rule == script.RulePhone {
			phone = v
		}
		values = append(values, sink.Value{Key: f.Key, Column: f.ColumnName(), Value: v})
	}
	submitted := s.CompletedAt
	if submitted.IsZero() {
		submitted = s.UpdatedAt
	}
	return sink.Record{
		ID:           s.RecordID,
		UserID:       s.UserID,
		EmployeeCode: EmployeeCode(e.codePrefix, phone, s.UserID),
		Fields:       values,
		SubmittedAt:  submitted,
	}
}

// EmployeeCode derives prefix + the last four phone digits, zero padded.
// Without a phone the user ID supplies the digits.
func EmployeeCode(prefix, phone string, userID int64) string {
	digits := script.Digits(phone)
	if digits == "" {
		digits = strconv.FormatInt(userID, 10)
	}
	if len(digits) >= 4 {
		return prefix + digits[len(digits)-4:]
	}
	return prefix + strings.Repeat("0", 4-len(digits)) + digits
}

// promptReply prefixes the prompt for step with lead and attaches choices.
func (e *Engine) promptReply(step int, lead string) Reply {
	field, err := e.script.Field(step)
	if err != nil {
		return Reply{Text: lead}
	}
	text := field.Prompt
	if lead != "" {
		text = lead + "\n\n" + field.Prompt
	}
	return Reply{Text: text, Choices: field.Choices, RemoveKeyboard: len(field.Choices) == 0}
}

func (e *Engine) send(ctx context.Context, chatID int64, r Reply) {
	if err := e.transport.Send(ctx, chatID, r); err != nil {
		e.logSendError(ctx, chatID, err)
	}
}

func (e *Engine) logSendError(ctx context.Context, chatID int64, err error) {
	logger.LogEvent(ctx, logger.Engine, slog.LevelWarn, "reply.fail",
		slog.String("status", "fail"),
		slog.Int64("chat_id", chatID),
		slog.String("err", err.Error()),
	)
}

func (e *Engine) logStoreError(ctx context.Context, userID int64, op string, err error) {
	logger.LogEvent(ctx, logger.Store, slog.LevelError, "store."+op,
		slog.String("status", "fail"),
		slog.Int64("user_id", userID),
		slog.String("err", err.Error()),
	)
}

// commandOf returns the lower-cased command of text, without any @botname
// suffix, or "" when text is not a command.
func commandOf(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	cmd, _, _ := strings.Cut(text, " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	if cmd == "/" {
		return ""
	}
	return strings.ToLower(cmd)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
