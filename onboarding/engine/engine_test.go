package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/onboardbot/core/telegram/state"
	"github.com/m3rciful/onboardbot/onboarding/script"
	"github.com/m3rciful/onboardbot/onboarding/sink"
)

type sent struct {
	chatID int64
	reply  Reply
}

type fakeTransport struct {
	mu       sync.Mutex
	out      []sent
	failPics bool
}

func (f *fakeTransport) Send(_ context.Context, chatID int64, r Reply) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.Photo != "" && f.failPics {
		return errors.New("photo rejected")
	}
	f.out = append(f.out, sent{chatID: chatID, reply: r})
	return nil
}

// take returns and clears the replies collected so far.
func (f *fakeTransport) take() []Reply {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Reply, 0, len(f.out))
	for _, s := range f.out {
		out = append(out, s.reply)
	}
	f.out = nil
	return out
}

type fakeSink struct {
	mu       sync.Mutex
	failures int
	calls    int
	records  []sink.Record
}

func (f *fakeSink) Name() string { return "fake" }

func (f *fakeSink) Append(_ context.Context, rec sink.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return errors.New("sheet unavailable")
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeSink) delivered() []sink.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sink.Record(nil), f.records...)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	engine    *Engine
	store     state.Store
	sink      *fakeSink
	transport *fakeTransport
	clock     *clock
}

func newHarness(t *testing.T, sc *script.Script, mutate ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		store:     state.NewMemoryStore(),
		sink:      &fakeSink{},
		transport: &fakeTransport{},
		clock:     &clock{now: time.Date(2024, 5, 31, 9, 0, 0, 0, time.UTC)},
	}
	var ids atomic.Int64
	opts := Options{
		Store:              h.store,
		Script:             sc,
		Sink:               h.sink,
		Transport:          h.transport,
		SinkAttempts:       1,
		EmployeeCodePrefix: "EMP",
		Now:                h.clock.Now,
		NewID: func() string {
			return fmt.Sprintf("rec-%d", ids.Add(1))
		},
	}
	for _, m := range mutate {
		m(&opts)
	}
	e, err := New(opts)
	require.NoError(t, err)
	h.engine = e
	return h
}

func (h *harness) say(t *testing.T, userID int64, text string) []Reply {
	t.Helper()
	require.NoError(t, h.engine.Handle(context.Background(), Message{UserID: userID, ChatID: userID, Text: text}))
	return h.transport.take()
}

func (h *harness) session(t *testing.T, userID int64) (*state.Session, bool) {
	t.Helper()
	s, ok, err := h.store.Get(context.Background(), userID)
	require.NoError(t, err)
	return s, ok
}

func aliceScript(t *testing.T) *script.Script {
	t.Helper()
	sc, err := script.New(
		script.Field{Key: "name", Prompt: "What's your name?", Rule: script.RuleRequired},
		script.Field{Key: "email", Prompt: "What's your email?", Rule: script.RuleEmail},
	)
	require.NoError(t, err)
	return sc
}

func TestAliceScenario(t *testing.T) {
	h := newHarness(t, aliceScript(t))
	const u1 = 1

	replies := h.say(t, u1, "/start")
	require.Len(t, replies, 1)
	assert.True(t, strings.HasSuffix(replies[0].Text, "What's your name?"))

	replies = h.say(t, u1, "")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "cannot be empty")
	assert.True(t, strings.HasSuffix(replies[0].Text, "What's your name?"))

	replies = h.say(t, u1, "Alice")
	require.Len(t, replies, 1)
	assert.Equal(t, "What's your email?", replies[0].Text)

	replies = h.say(t, u1, "not-an-email")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "valid email")
	assert.True(t, strings.HasSuffix(replies[0].Text, "What's your email?"))

	replies = h.say(t, u1, "alice@example.com")
	require.NotEmpty(t, replies)
	assert.Contains(t, replies[0].Text, "saved")

	got := h.sink.delivered()
	require.Len(t, got, 1)
	assert.Equal(t, map[string]string{"name": "Alice", "email": "alice@example.com"}, got[0].Map())
	assert.Equal(t, int64(u1), got[0].UserID)

	_, ok := h.session(t, u1)
	assert.False(t, ok, "session must be removed after a successful append")
}

func TestCompletesAfterExactlyNAnswers(t *testing.T) {
	sc := script.Default()
	h := newHarness(t, sc)
	answers := []string{
		"Alice Smith", "female", "98765 43210", "alice@example.com", "same",
		"@alice", "123456789012", "hdfc0001234", "HDFC Bank",
	}
	require.Len(t, answers, sc.Len())

	h.say(t, 7, "/start")
	for i, a := range answers {
		s, ok := h.session(t, 7)
		require.True(t, ok)
		assert.Equal(t, i, s.Step)
		assert.Empty(t, h.sink.delivered())
		h.say(t, 7, a)
	}

	got := h.sink.delivered()
	require.Len(t, got, 1)
	rec := got[0]
	assert.Equal(t, "rec-1", rec.ID)
	assert.Equal(t, "EMP3210", rec.EmployeeCode)
	m := rec.Map()
	assert.Equal(t, "Female", m["gender"])
	assert.Equal(t, "98765 43210", m["whatsapp"])
	assert.Equal(t, "HDFC0001234", m["ifsc"])

	cols := make([]string, 0, len(rec.Fields))
	for _, v := range rec.Fields {
		cols = append(cols, v.Column)
	}
	assert.Equal(t, []string{"Name", "Gender", "Phone", "Email", "WhatsApp", "Telegram User", "Account Number", "IFSC", "Bank Name"}, cols)
}

func TestInvalidAnswerKeepsStep(t *testing.T) {
	sc := script.Default()
	h := newHarness(t, sc)
	h.say(t, 3, "/start")
	h.say(t, 3, "Bob")

	for _, bad := range []string{"", "robot", "   "} {
		replies := h.say(t, 3, bad)
		require.Len(t, replies, 1)
		prompt, _ := sc.Prompt(1)
		assert.Contains(t, replies[0].Text, prompt)
		assert.Equal(t, []string{"Male", "Female", "Other"}, replies[0].Choices)

		s, _ := h.session(t, 3)
		assert.Equal(t, 1, s.Step)
		assert.Equal(t, map[string]string{"name": "Bob"}, s.Fields)
	}
}

func TestStartTwiceResetsWithoutDuplicate(t *testing.T) {
	h := newHarness(t, aliceScript(t))
	h.say(t, 5, "/start")
	replies := h.say(t, 5, "/start")
	require.Len(t, replies, 1)
	assert.True(t, strings.HasSuffix(replies[0].Text, "What's your name?"))

	all, err := h.store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 0, all[0].Step)
}

func TestStartMidwayKeepsProgress(t *testing.T) {
	h := newHarness(t, aliceScript(t))
	h.say(t, 5, "/start")
	h.say(t, 5, "Alice")

	replies := h.say(t, 5, "/start")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "already in progress")
	assert.True(t, strings.HasSuffix(replies[0].Text, "What's your email?"))

	s, _ := h.session(t, 5)
	assert.Equal(t, 1, s.Step)
}

func TestCancelAtAnyStep(t *testing.T) {
	sc := script.Default()
	valid := []string{"Alice", "Female", "9876543210", "a@b.c", "same", "@a", "123456", "HDFC0001234"}
	for step := 0; step < sc.Len(); step++ {
		t.Run(fmt.Sprintf("step-%d", step), func(t *testing.T) {
			h := newHarness(t, sc)
			h.say(t, 9, "/start")
			for i := 0; i < step; i++ {
				h.say(t, 9, valid[i])
			}

			replies := h.say(t, 9, "/cancel")
			require.Len(t, replies, 1)
			assert.Contains(t, replies[0].Text, "canceled")
			_, ok := h.session(t, 9)
			assert.False(t, ok)

			replies = h.say(t, 9, "/start")
			require.Len(t, replies, 1)
			s, ok := h.session(t, 9)
			require.True(t, ok)
			assert.Equal(t, 0, s.Step)
			assert.Empty(t, s.Fields)
		})
	}
}

func TestCancelWithoutSession(t *testing.T) {
	h := newHarness(t, aliceScript(t))
	replies := h.say(t, 4, "/cancel")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "nothing to cancel")
}

func TestPlainTextWithoutSession(t *testing.T) {
	h := newHarness(t, aliceScript(t))
	replies := h.say(t, 4, "hello")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "/start")
	_, ok := h.session(t, 4)
	assert.False(t, ok)
}

func TestUnknownCommandReprompts(t *testing.T) {
	h := newHarness(t, aliceScript(t))
	h.say(t, 4, "/start")
	replies := h.say(t, 4, "/whoami")
	require.Len(t, replies, 1)
	assert.True(t, strings.HasSuffix(replies[0].Text, "What's your name?"))

	s, _ := h.session(t, 4)
	assert.Equal(t, 0, s.Step)
	assert.Empty(t, s.Fields)
}

func TestSinkFailureKeepsRecordUntilNextMessage(t *testing.T) {
	h := newHarness(t, aliceScript(t))
	h.sink.failures = 1

	h.say(t, 2, "/start")
	h.say(t, 2, "Alice")
	replies := h.say(t, 2, "alice@example.com")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "Error saving details")

	s, ok := h.session(t, 2)
	require.True(t, ok)
	assert.Equal(t, 2, s.Step)
	assert.Equal(t, 1, s.FlushAttempts)
	assert.Equal(t, "rec-1", s.RecordID)
	assert.Empty(t, h.sink.delivered())

	// Any text re-attempts the flush instead of being treated as an answer.
	replies = h.say(t, 2, "hello?")
	require.NotEmpty(t, replies)
	assert.Contains(t, replies[0].Text, "saved")

	got := h.sink.delivered()
	require.Len(t, got, 1)
	assert.Equal(t, "rec-1", got[0].ID)
	assert.Equal(t, "Alice", got[0].Map()["name"])
	_, ok = h.session(t, 2)
	assert.False(t, ok)
}

func TestSinkRetriesWithinOneFlush(t *testing.T) {
	h := newHarness(t, aliceScript(t), func(o *Options) { o.SinkAttempts = 3 })
	h.sink.failures = 2

	h.say(t, 2, "/start")
	h.say(t, 2, "Alice")
	h.say(t, 2, "alice@example.com")

	assert.Equal(t, 3, h.sink.calls)
	assert.Len(t, h.sink.delivered(), 1)
	_, ok := h.session(t, 2)
	assert.False(t, ok)
}

func TestCancelAbandonsPendingRecord(t *testing.T) {
	h := newHarness(t, aliceScript(t))
	h.sink.failures = 10

	h.say(t, 2, "/start")
	h.say(t, 2, "Alice")
	h.say(t, 2, "alice@example.com")
	h.say(t, 2, "/cancel")

	_, ok := h.session(t, 2)
	assert.False(t, ok)
	assert.Empty(t, h.sink.delivered())
}

func TestAcknowledgement(t *testing.T) {
	h := newHarness(t, aliceScript(t), func(o *Options) {
		o.HRUsername = "@people_team"
		o.ImageURL = "https://example.com/welcome.png"
		o.EmployeeCodePrefix = "NEW_"
	})
	h.say(t, 11, "/start")
	h.say(t, 11, "Alice")
	replies := h.say(t, 11, "alice@example.com")

	require.Len(t, replies, 4)
	assert.Contains(t, replies[0].Text, "Name: Alice")
	assert.True(t, replies[0].RemoveKeyboard)
	assert.Equal(t, `Your Employee Code: *NEW\_0011*`, replies[1].Text)
	assert.True(t, replies[1].Markdown)
	assert.Equal(t, "https://example.com/welcome.png", replies[2].Photo)
	assert.Equal(t, "Share your Employee Code with HR: https://t.me/people_team", replies[3].Text)
}

func TestAcknowledgementPhotoFailure(t *testing.T) {
	h := newHarness(t, aliceScript(t), func(o *Options) { o.ImageURL = "https://example.com/x.png" })
	h.transport.failPics = true
	h.say(t, 11, "/start")
	h.say(t, 11, "Alice")
	replies := h.say(t, 11, "alice@example.com")

	require.Len(t, replies, 3)
	assert.Equal(t, "(Could not send image)", replies[2].Text)
	assert.Len(t, h.sink.delivered(), 1)
}

func TestSweepRetriesPendingAndExpiresIdle(t *testing.T) {
	h := newHarness(t, aliceScript(t), func(o *Options) { o.IdleTTL = 30 * time.Minute })
	ctx := context.Background()

	// User 1 completes while the sink is down.
	h.sink.failures = 1
	h.say(t, 1, "/start")
	h.say(t, 1, "Alice")
	h.say(t, 1, "alice@example.com")

	// User 2 stalls halfway.
	h.say(t, 2, "/start")
	h.say(t, 2, "Bob")

	h.clock.Advance(10 * time.Minute)
	report, err := h.engine.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Retried)
	assert.Equal(t, 1, report.Delivered)
	assert.Equal(t, 0, report.Expired)
	assert.Len(t, h.sink.delivered(), 1)
	h.transport.take()

	h.clock.Advance(31 * time.Minute)
	report, err = h.engine.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Expired)
	_, ok := h.session(t, 2)
	assert.False(t, ok)

	replies := h.transport.take()
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "expired")
}

func TestSweepNeverExpiresPendingRecords(t *testing.T) {
	h := newHarness(t, aliceScript(t), func(o *Options) { o.IdleTTL = time.Minute })
	h.sink.failures = 100
	h.say(t, 1, "/start")
	h.say(t, 1, "Alice")
	h.say(t, 1, "alice@example.com")
	h.transport.take()

	h.clock.Advance(time.Hour)
	report, err := h.engine.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Expired)
	assert.Equal(t, 1, report.Retried)
	assert.Equal(t, 0, report.Delivered)
	assert.Empty(t, h.transport.take(), "sweep failures are not re-announced")

	s, ok := h.session(t, 1)
	require.True(t, ok)
	assert.Equal(t, 2, s.FlushAttempts)
}

func TestPendingAndDrop(t *testing.T) {
	h := newHarness(t, aliceScript(t))
	ctx := context.Background()
	h.sink.failures = 1
	h.say(t, 1, "/start")
	h.say(t, 1, "Alice")
	h.say(t, 1, "alice@example.com")
	h.say(t, 2, "/start")

	pending, err := h.engine.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(1), pending[0].UserID)

	dropped, err := h.engine.Drop(ctx, 2)
	require.NoError(t, err)
	assert.True(t, dropped)
	dropped, err = h.engine.Drop(ctx, 2)
	require.NoError(t, err)
	assert.False(t, dropped)
}

func TestConcurrentUsers(t *testing.T) {
	h := newHarness(t, aliceScript(t))
	var wg sync.WaitGroup
	for u := int64(1); u <= 20; u++ {
		wg.Add(1)
		go func(u int64) {
			defer wg.Done()
			ctx := context.Background()
			for _, text := range []string{"/start", fmt.Sprintf("user%d", u), fmt.Sprintf("u%d@example.com", u)} {
				_ = h.engine.Handle(ctx, Message{UserID: u, ChatID: u, Text: text})
			}
		}(u)
	}
	wg.Wait()

	got := h.sink.delivered()
	require.Len(t, got, 20)
	for _, rec := range got {
		assert.Equal(t, fmt.Sprintf("user%d", rec.UserID), rec.Map()["name"])
	}
	all, err := h.store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Equal(t, 0, h.engine.locks.size())
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestEmployeeCode(t *testing.T) {
	tests := []struct {
		phone  string
		userID int64
		want   string
	}{
		{"+91 98765-43210", 1, "EMP3210"},
		{"12", 1, "EMP0012"},
		{"", 42, "EMP0042"},
		{"", 123456, "EMP3456"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EmployeeCode("EMP", tt.phone, tt.userID))
	}
}

func TestCommandOf(t *testing.T) {
	assert.Equal(t, "/start", commandOf("/Start"))
	assert.Equal(t, "/start", commandOf("/start@onboard_bot payload"))
	assert.Equal(t, "", commandOf("hello /start"))
	assert.Equal(t, "", commandOf("/"))
}
