package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/m3rciful/onboardbot/core/logger"
	"github.com/m3rciful/onboardbot/core/metrics"
	"github.com/m3rciful/onboardbot/core/telegram/state"
)

// Sweep retries pending records and expires idle unfinished sessions.
func (e *Engine) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	sessions, err := e.store.List(ctx)
	if err != nil {
		e.logStoreError(ctx, 0, "list", err)
		return report, err
	}
	report.Sessions = len(sessions)

	now := e.now().UTC()
	for _, snap := range sessions {
		if ctx.Err() != nil {
			break
		}
		e.sweepOne(ctx, snap.UserID, now, &report)
	}

	active, pending := e.counts(ctx)
	metrics.SetSessions(active, pending)

	level := slog.LevelDebug
	if report.Retried > 0 || report.Expired > 0 {
		level = slog.LevelInfo
	}
	logger.LogEvent(ctx, logger.Engine, level, "sweep",
		slog.String("status", "ok"),
		slog.Int("count", report.Sessions),
		slog.Int("retried", report.Retried),
		slog.Int("delivered", report.Delivered),
		slog.Int("expired", report.Expired),
	)
	return report, nil
}

func (e *Engine) sweepOne(ctx context.Context, userID int64, now time.Time, report *SweepReport) {
	unlock := e.locks.Lock(userID)
	defer unlock()

	// Re-read under the lock; the snapshot may be stale.
	s, ok, err := e.store.Get(ctx, userID)
	if err != nil {
		e.logStoreError(ctx, userID, "get", err)
		return
	}
	if !ok {
		return
	}

	switch {
	case e.complete(s):
		report.Retried++
		if err := e.flush(ctx, s, false); err != nil {
			return
		}
		if _, still, err := e.store.Get(ctx, userID); err == nil && !still {
			report.Delivered++
		}
	case e.idleTTL > 0 && now.Sub(s.UpdatedAt) > e.idleTTL:
		if err := e.store.Remove(ctx, userID); err != nil {
			e.logStoreError(ctx, userID, "remove", err)
			return
		}
		report.Expired++
		metrics.RecordSession("expired")
		logger.LogEvent(ctx, logger.Engine, slog.LevelInfo, "session.expire",
			slog.String("status", "expired"),
			slog.Int64("user_id", userID),
			slog.Int("step", s.Step),
		)
		e.send(ctx, s.ChatID, Reply{Text: e.texts.Expired, RemoveKeyboard: true})
	}
}

func (e *Engine) counts(ctx context.Context) (active, pending int) {
	sessions, err := e.store.List(ctx)
	if err != nil {
		return 0, 0
	}
	for _, s := range sessions {
		if e.complete(s) {
			pending++
		}
	}
	return len(sessions), pending
}

// Pending lists sessions whose record has not reached the sink yet.
func (e *Engine) Pending(ctx context.Context) ([]*state.Session, error) {
	sessions, err := e.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := sessions[:0]
	for _, s := range sessions {
		if e.complete(s) {
			out = append(out, s)
		}
	}
	return out, nil
}

// Drop removes a user's session on behalf of an operator and tells the user.
// It reports whether a session existed.
func (e *Engine) Drop(ctx context.Context, userID int64) (bool, error) {
	unlock := e.locks.Lock(userID)
	defer unlock()

	s, ok, err := e.store.Get(ctx, userID)
	if err != nil || !ok {
		return false, err
	}
	if err := e.store.Remove(ctx, userID); err != nil {
		return false, err
	}
	metrics.RecordSession("dropped")
	logger.LogEvent(logger.WithRecordID(ctx, s.RecordID), logger.Engine, slog.LevelWarn, "session.drop",
		slog.String("status", "ok"),
		slog.Int64("user_id", userID),
		slog.Int("step", s.Step),
	)
	e.send(ctx, s.ChatID, Reply{Text: e.texts.Dropped, RemoveKeyboard: true})
	return true, nil
}

// Sweeper runs Engine.Sweep on a cron schedule.
type Sweeper struct {
	engine *Engine
	cron   *cron.Cron
}

// NewSweeper parses spec (standard cron or @every descriptors).
func NewSweeper(e *Engine, spec string) (*Sweeper, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	sw := &Sweeper{engine: e, cron: c}
	if _, err := c.AddFunc(spec, sw.tick); err != nil {
		return nil, fmt.Errorf("engine: invalid sweep schedule %q: %w", spec, err)
	}
	return sw, nil
}

func (sw *Sweeper) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	_, _ = sw.engine.Sweep(ctx)
}

// Run starts the schedule and blocks until ctx is done, then waits for a
// running sweep to finish.
func (sw *Sweeper) Run(ctx context.Context) error {
	sw.cron.Start()
	<-ctx.Done()
	<-sw.cron.Stop().Done()
	return nil
}
