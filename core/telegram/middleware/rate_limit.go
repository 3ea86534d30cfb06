package middleware

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/m3rciful/onboardbot/core/logger"
	"github.com/m3rciful/onboardbot/core/metrics"
	tghelpers "github.com/m3rciful/onboardbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// RateLimitOptions configures behaviour of the rate limit middleware.
type RateLimitOptions struct {
	// Interval is the steady-state gap between updates of one user.
	Interval time.Duration
	// Burst is how many updates may arrive back to back. Values below 1 mean 1.
	Burst int
	// Exclude lists update kinds (see UpdateKind) that bypass the limiter.
	Exclude   map[string]struct{}
	OnLimited tele.HandlerFunc
	// IdleAfter drops limiter state of users quiet for this long; 0 means 10m.
	IdleAfter time.Duration

	now func() time.Time
}

type userLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware returns a middleware with a token bucket per user.
// Limited updates are dropped after OnLimited runs.
func RateLimitMiddleware(opts RateLimitOptions) tele.MiddlewareFunc {
	if opts.Burst < 1 {
		opts.Burst = 1
	}
	if opts.IdleAfter <= 0 {
		opts.IdleAfter = 10 * time.Minute
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	var (
		mu        sync.Mutex
		limiters  = make(map[int64]*userLimiter)
		lastSweep time.Time
	)

	allow := func(userID int64, now time.Time) bool {
		mu.Lock()
		defer mu.Unlock()
		if now.Sub(lastSweep) > opts.IdleAfter {
			for id, ul := range limiters {
				if now.Sub(ul.lastSeen) > opts.IdleAfter {
					delete(limiters, id)
				}
			}
			lastSweep = now
		}
		ul, ok := limiters[userID]
		if !ok {
			ul = &userLimiter{lim: rate.NewLimiter(rate.Every(opts.Interval), opts.Burst)}
			limiters[userID] = ul
		}
		ul.lastSeen = now
		return ul.lim.AllowN(now, 1)
	}

	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			user := c.Sender()
			if user == nil || opts.Interval <= 0 {
				return next(c)
			}
			if _, skip := opts.Exclude[UpdateKind(c.Update())]; skip {
				return next(c)
			}

			if allow(user.ID, opts.now()) {
				return next(c)
			}

			metrics.RecordRateLimited()
			logger.LogEvent(tghelpers.BuildContext(c), logger.TG, slog.LevelWarn, "tg.rate_limit",
				slog.Int64("interval_ms", opts.Interval.Milliseconds()),
				slog.Int("burst", opts.Burst),
			)
			if opts.OnLimited != nil {
				_ = opts.OnLimited(c)
			}
			return nil
		}
	}
}
