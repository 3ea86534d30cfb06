package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/m3rciful/onboardbot/core/logger"
)

const (
	readyTimeout  = 30 * time.Second
	readyInterval = 2 * time.Second
	pingTimeout   = 5 * time.Second
)

// Connect opens the pool and waits until PostgreSQL answers a ping, which
// covers containers started alongside the database.
func Connect(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	attrs := []slog.Attr{
		slog.String("event", "db.connect"),
		slog.String("host", cfg.Host),
		slog.String("port", cfg.Port),
		slog.String("db", cfg.Name),
	}
	start := time.Now()
	db, err := sqlx.Open("postgres", DSN(cfg))
	if err == nil {
		err = waitReady(ctx, db, readyTimeout)
		if err != nil {
			_ = db.Close()
		}
	}
	attrs = append(attrs, slog.Duration("duration", logger.RoundMS(time.Since(start))))
	if err != nil {
		logger.DB.LogAttrs(ctx, slog.LevelError, "db connect failed",
			append(attrs, slog.String("status", "fail"), slog.String("err", err.Error()))...)
		return nil, fmt.Errorf("db connect: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxConnections)
	db.SetConnMaxIdleTime(5 * time.Minute)
	logger.DB.LogAttrs(ctx, slog.LevelInfo, "db connected",
		append(attrs, slog.String("status", "ok"), slog.Int("pool_open", cfg.MaxConnections))...)
	return db, nil
}

// pinger is the part of *sqlx.DB waitReady needs.
type pinger interface {
	PingContext(ctx context.Context) error
}

// waitReady pings db every readyInterval until it answers or timeout passes.
func waitReady(ctx context.Context, db pinger, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for attempt := 1; ; attempt++ {
		pctx, pcancel := context.WithTimeout(ctx, pingTimeout)
		err := db.PingContext(pctx)
		pcancel()
		if err == nil {
			return nil
		}
		logger.DB.Debug("db not ready",
			slog.String("event", "db.wait"),
			slog.Int("attempt", attempt),
			slog.String("err", err.Error()),
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("database not ready after %s: %w", timeout, err)
		case <-time.After(readyInterval):
		}
	}
}
