package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/m3rciful/onboardbot/core/logger"
)

const defaultRedisPrefix = "onboardbot:session:"

// RedisConfig holds Redis connection settings for the session store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces session keys (default "onboardbot:session:").
	Prefix string
	// TTL expires untouched sessions inside Redis; 0 keeps them forever.
	TTL time.Duration
}

// RedisStore implements Store on top of Redis, one JSON value per user.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("state: redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("state: redis ping failed: %w", err)
	}
	logger.Store.Info("redis connected",
		slog.String("event", "store.connect"),
		slog.String("host", cfg.Addr),
	)
	return NewRedisStoreFromClient(client, cfg.Prefix, cfg.TTL), nil
}

// NewRedisStoreFromClient wraps an existing client, e.g. one pointed at miniredis.
func NewRedisStoreFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

func (r *RedisStore) key(userID int64) string {
	return r.prefix + strconv.FormatInt(userID, 10)
}

func (r *RedisStore) GetOrCreate(ctx context.Context, userID int64) (*Session, bool, error) {
	s, ok, err := r.Get(ctx, userID)
	if err != nil || ok {
		return s, false, err
	}

	s = New(userID, r.now().UTC())
	data, err := json.Marshal(s)
	if err != nil {
		return nil, false, fmt.Errorf("state: marshal session: %w", err)
	}
	err = r.client.SetArgs(ctx, r.key(userID), data, redis.SetArgs{Mode: "NX", TTL: r.ttl}).Err()
	switch {
	case err == nil:
		return s, true, nil
	case errors.Is(err, redis.Nil):
		// Lost a creation race; the other writer's session wins.
		existing, ok, err := r.Get(ctx, userID)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return existing, false, nil
		}
		return nil, false, ErrSessionNotFound
	default:
		return nil, false, fmt.Errorf("state: create session: %w", err)
	}
}

func (r *RedisStore) Get(ctx context.Context, userID int64) (*Session, bool, error) {
	data, err := r.client.Get(ctx, r.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("state: get session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, false, fmt.Errorf("state: unmarshal session: %w", err)
	}
	if s.Fields == nil {
		s.Fields = make(map[string]string)
	}
	return &s, true, nil
}

func (r *RedisStore) Update(ctx context.Context, s *Session) error {
	if s == nil {
		return ErrSessionNotFound
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("state: marshal session: %w", err)
	}
	err = r.client.SetArgs(ctx, r.key(s.UserID), data, redis.SetArgs{Mode: "XX", TTL: r.ttl}).Err()
	if errors.Is(err, redis.Nil) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("state: update session: %w", err)
	}
	return nil
}

func (r *RedisStore) Remove(ctx context.Context, userID int64) error {
	if err := r.client.Del(ctx, r.key(userID)).Err(); err != nil {
		return fmt.Errorf("state: remove session: %w", err)
	}
	return nil
}

func (r *RedisStore) List(ctx context.Context) ([]*Session, error) {
	var out []*Session
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		id, err := strconv.ParseInt(strings.TrimPrefix(iter.Val(), r.prefix), 10, 64)
		if err != nil {
			continue
		}
		s, ok, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, s)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("state: scan sessions: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// Close releases the Redis connection pool.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
