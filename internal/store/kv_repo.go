package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/arbnexus/arbnexus/internal/domain"
)

// KV keys.
const (
	kvBotRunning     = "bot.running"
	kvAutoExecute    = "bot.armed"
	kvConfigRevision = "config.revision"
)

func (s *Store) kvSet(ctx context.Context, key, value string) error {
	qctx, cancel := s.ctx(ctx)
	defer cancel()
	_, err := s.db.ExecContext(qctx, `
		INSERT INTO kv (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value)
	if err != nil {
		return fmt.Errorf("kv set %s: %w", key, err)
	}
	return nil
}

func (s *Store) kvGet(ctx context.Context, key string) (string, bool, error) {
	qctx, cancel := s.ctx(ctx)
	defer cancel()
	var value string
	err := s.db.GetContext(qctx, &value, `SELECT value FROM kv WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kv get %s: %w", key, err)
	}
	return value, true, nil
}

// SaveNonce persists the chain's nonce counter so restarts resume the
// gap-free sequence.
func (s *Store) SaveNonce(ctx context.Context, chain domain.ChainID, next uint64) error {
	return s.kvSet(ctx, "nonce."+string(chain), strconv.FormatUint(next, 10))
}

// LoadNonce reads the persisted counter; ok is false when none exists.
func (s *Store) LoadNonce(ctx context.Context, chain domain.ChainID) (uint64, bool, error) {
	raw, ok, err := s.kvGet(ctx, "nonce."+string(chain))
	if err != nil || !ok {
		return 0, false, err
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse persisted nonce: %w", err)
	}
	return n, true, nil
}

// SetBotRunning flips the scanning flag.
func (s *Store) SetBotRunning(ctx context.Context, running bool) error {
	return s.kvSet(ctx, kvBotRunning, strconv.FormatBool(running))
}

// BotRunning reads the scanning flag; defaults true when unset.
func (s *Store) BotRunning(ctx context.Context) (bool, error) {
	raw, ok, err := s.kvGet(ctx, kvBotRunning)
	if err != nil || !ok {
		return true, err
	}
	return raw == "true", nil
}

// SetArmed flips the auto-execute flag.
func (s *Store) SetArmed(ctx context.Context, armed bool) error {
	return s.kvSet(ctx, kvAutoExecute, strconv.FormatBool(armed))
}

// Armed reads the auto-execute flag; defaults false when unset.
func (s *Store) Armed(ctx context.Context) (bool, error) {
	raw, ok, err := s.kvGet(ctx, kvAutoExecute)
	if err != nil || !ok {
		return false, err
	}
	return raw == "true", nil
}

// BumpConfigRevision increments and returns the config revision.
func (s *Store) BumpConfigRevision(ctx context.Context) (uint64, error) {
	raw, _, err := s.kvGet(ctx, kvConfigRevision)
	if err != nil {
		return 0, err
	}
	rev, _ := strconv.ParseUint(raw, 10, 64)
	rev++
	if err := s.kvSet(ctx, kvConfigRevision, strconv.FormatUint(rev, 10)); err != nil {
		return 0, err
	}
	return rev, nil
}
