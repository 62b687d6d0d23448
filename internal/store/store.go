// Package store persists the engine's six time series to Postgres,
// fronts the live view with a short-TTL Redis cache and enforces the
// retention policy.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/arbnexus/arbnexus/internal/config"
)

// Store is the single durable-history writer. One Store instance serves
// all series; concurrent readers get consistent snapshots from SQL.
type Store struct {
	db    *sqlx.DB
	cache *LiveCache

	queryTimeout time.Duration
}

// Open connects to Postgres and Redis and bootstraps the schema. A
// connection failure here maps to the store-unreachable exit path.
func Open(ctx context.Context, cfg config.StoreConfig) (*Store, error) {
	db, err := sqlx.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingTimeout := cfg.QueryTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	s := &Store{
		db:           db,
		cache:        NewLiveCache(rdb),
		queryTimeout: cfg.QueryTimeout,
	}
	if err := s.EnsureSchema(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Cache exposes the Redis live view.
func (s *Store) Cache() *LiveCache { return s.cache }

// EnsureSchema creates the tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("bootstrap schema: %w", err)
	}
	return nil
}

// Close releases both backends.
func (s *Store) Close() error {
	s.cache.Close()
	return s.db.Close()
}

func (s *Store) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	timeout := s.queryTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(parent, timeout)
}
