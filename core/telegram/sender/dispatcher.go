package sender

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m3rciful/onboardbot/core/logger"
	"github.com/m3rciful/onboardbot/core/metrics"
	"github.com/m3rciful/onboardbot/core/telegram/netutil"

	tele "gopkg.in/telebot.v4"
)

// Options controls the behaviour of the outbound dispatcher.
type Options struct {
	QueueSize    int
	Workers      int
	MaxRetries   int
	RetryBackoff time.Duration
	// MaxDuration bounds the time spent retrying a single job.
	MaxDuration time.Duration
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	o.MaxRetries = max(o.MaxRetries, 0)
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 2 * time.Second
	}
	if o.MaxDuration <= 0 {
		o.MaxDuration = 12 * time.Second
	}
	return o
}

type job struct {
	ctx      context.Context
	action   string
	endpoint string
	run      func() error
}

func (j job) attrs(extra ...slog.Attr) []slog.Attr {
	attrs := []slog.Attr{slog.String("handler", j.action)}
	if j.endpoint != "" {
		attrs = append(attrs, slog.String("endpoint", j.endpoint))
	}
	return append(attrs, extra...)
}

// Dispatcher runs Telegram API calls with retries, either queued on a
// worker pool (Enqueue) or on the caller's goroutine (Do).
type Dispatcher struct {
	opts Options
	jobs chan job

	// mu orders Enqueue against Close so jobs is never sent on after closing.
	mu     sync.RWMutex
	closed bool
	once   sync.Once
	wg     sync.WaitGroup
	errs   atomic.Uint64
}

// NewDispatcher starts the worker pool; zero options get defaults.
func NewDispatcher(opts Options) *Dispatcher {
	opts = opts.withDefaults()
	d := &Dispatcher{opts: opts, jobs: make(chan job, opts.QueueSize)}
	d.wg.Add(opts.Workers)
	for range opts.Workers {
		go func() {
			defer d.wg.Done()
			for j := range d.jobs {
				_ = d.execute(j)
			}
		}()
	}
	return d
}

// Enqueue schedules run without waiting for it. run may be called more
// than once.
func (d *Dispatcher) Enqueue(ctx context.Context, action, endpoint string, run func() error) error {
	j, err := newJob(ctx, action, endpoint, run)
	if err != nil {
		return err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrQueueClosed
	}
	select {
	case d.jobs <- j:
		return nil
	default:
		return ErrQueueFull
	}
}

// Do runs fn on the caller's goroutine with the same retry policy as queued
// jobs. Replies that must keep their order within a chat go through Do.
func (d *Dispatcher) Do(ctx context.Context, action, endpoint string, run func() error) error {
	j, err := newJob(ctx, action, endpoint, run)
	if err != nil {
		return err
	}
	return d.execute(j)
}

func newJob(ctx context.Context, action, endpoint string, run func() error) (job, error) {
	if run == nil {
		return job{}, errors.New("telegram sender: nil run function")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return job{ctx: ctx, action: action, endpoint: endpoint, run: run}, nil
}

// ErrorCount returns the number of jobs that failed for good.
func (d *Dispatcher) ErrorCount() uint64 {
	return d.errs.Load()
}

// Close stops accepting jobs and waits for queued ones to finish.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.jobs)
		d.mu.Unlock()
		d.wg.Wait()
	})
}

func (d *Dispatcher) execute(j job) error {
	ctx, cancel := context.WithTimeout(j.ctx, d.opts.MaxDuration)
	defer cancel()

	start := time.Now()
	logger.LogEvent(j.ctx, logger.Sender, slog.LevelDebug, "send.start", j.attrs()...)

	attempts := d.opts.MaxRetries + 1
	var err error
	for attempt := 1; ; attempt++ {
		if err = j.run(); err == nil {
			if attempt > 1 || logger.ShouldSampleDebug() {
				logger.LogEvent(j.ctx, logger.Sender, slog.LevelDebug, "send.success", j.attrs(
					slog.Int("attempt", attempt),
					slog.Duration("duration", time.Since(start)),
				)...)
			}
			return nil
		}
		if attempt == attempts || !retryable(err) {
			break
		}
		delay := backoff(err, d.opts.RetryBackoff, attempt)
		metrics.RecordOutboundRetry(errKind(err))
		logger.LogEvent(j.ctx, logger.Sender, slog.LevelDebug, "send.retry.backoff", j.attrs(
			slog.Int("attempt", attempt),
			slog.String("err_kind", errKind(err)),
			slog.Duration("backoff", delay),
		)...)
		if !sleep(ctx, delay) {
			err = errors.Join(err, ctx.Err())
			break
		}
	}

	d.errs.Add(1)
	logger.LogEvent(j.ctx, logger.Sender, slog.LevelError, "send.fail", j.attrs(
		slog.String("err", redact(err)),
		slog.String("err_kind", errKind(err)),
		slog.Int("attempts", attempts),
		slog.Duration("duration", time.Since(start)),
	)...)
	return err
}

// retryable accepts transport failures, flood control and Telegram 5xx.
func retryable(err error) bool {
	if netutil.ShouldRetry(err) {
		return true
	}
	status := apiStatus(err)
	return status == 429 || status >= 500
}

// backoff honours Telegram's retry_after and otherwise grows linearly.
func backoff(err error, base time.Duration, attempt int) time.Duration {
	var flood tele.FloodError
	if errors.As(err, &flood) && flood.RetryAfter > 0 {
		return time.Duration(flood.RetryAfter) * time.Second
	}
	return base * time.Duration(attempt)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
