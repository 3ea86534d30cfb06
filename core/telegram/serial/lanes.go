// Package serial runs inbound work in per-key FIFO lanes: jobs for the same
// key execute one at a time in submission order, different keys run in parallel.
package serial

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/m3rciful/onboardbot/core/logger"
)

var (
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("serial: lanes closed")
	// ErrLaneFull is returned when a key already has QueueSize jobs waiting.
	ErrLaneFull = errors.New("serial: lane full")
)

// Options tunes lane buffering and teardown.
type Options struct {
	// QueueSize bounds pending jobs per key (default 32).
	QueueSize int
	// IdleTimeout stops a lane's goroutine after this long without work (default 1m).
	IdleTimeout time.Duration
}

// Lanes is a per-key serialised executor.
type Lanes struct {
	opts Options

	mu     sync.Mutex
	lanes  map[int64]chan func()
	closed bool
	wg     sync.WaitGroup
}

// New creates an empty set of lanes.
func New(opts Options) *Lanes {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 32
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = time.Minute
	}
	return &Lanes{opts: opts, lanes: make(map[int64]chan func())}
}

// Submit queues fn on key's lane without blocking.
func (l *Lanes) Submit(key int64, fn func()) error {
	if fn == nil {
		return errors.New("serial: nil job")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	ch, ok := l.lanes[key]
	if !ok {
		ch = make(chan func(), l.opts.QueueSize)
		l.lanes[key] = ch
		l.wg.Add(1)
		go l.run(key, ch)
	}
	select {
	case ch <- fn:
		return nil
	default:
		return ErrLaneFull
	}
}

// Active returns the number of live lanes.
func (l *Lanes) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lanes)
}

// Close stops accepting jobs and waits until queued jobs finish or ctx ends.
func (l *Lanes) Close(ctx context.Context) error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		for _, ch := range l.lanes {
			close(ch)
		}
	}
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Lanes) run(key int64, ch chan func()) {
	defer l.wg.Done()
	idle := time.NewTimer(l.opts.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case fn, ok := <-ch:
			if !ok {
				return
			}
			l.exec(key, fn)
			idle.Reset(l.opts.IdleTimeout)
		case <-idle.C:
			// Submit enqueues under mu, so an empty channel here cannot miss a job.
			l.mu.Lock()
			if !l.closed && len(ch) == 0 {
				delete(l.lanes, key)
				l.mu.Unlock()
				return
			}
			l.mu.Unlock()
			idle.Reset(l.opts.IdleTimeout)
		}
	}
}

func (l *Lanes) exec(key int64, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.TG.Error("panic recovered",
				slog.String("event", "tg.lane.panic"),
				slog.Int64("user_id", key),
				slog.Any("err", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	fn()
}
