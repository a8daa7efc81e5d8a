// Package rediscache provides optional Redis-backed adjuncts to the
// serialization domain: a warm-start cache of recent ATR history and a
// cross-process mirror of the position-lock set. Both are env-gated the way
// the teacher's data/cache/cache.go gates its redisCache behind REDIS_ADDR —
// a signalengine instance with no REDIS_ADDR set runs with no cache at all
// and loses nothing but restart warmup time.
package rediscache

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sharplee/signalcore/internal/model"
	"github.com/sharplee/signalcore/internal/poslock"
	"github.com/sharplee/signalcore/internal/signalgen"
)

const (
	defaultOpTimeout = 500 * time.Millisecond
	atrKeyPrefix     = "signalcore:atr:"
	lockKeyPrefix    = "signalcore:lock:"
)

// NewClientFromEnv returns a *redis.Client configured from REDIS_ADDR, or
// nil if unset, mirroring the teacher's NewAuto env-gate.
func NewClientFromEnv() *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return nil
	}
	opts := &redis.Options{Addr: addr}
	if db := os.Getenv("REDIS_DB"); db != "" {
		if n, err := strconv.Atoi(db); err == nil {
			opts.DB = n
		}
	}
	return redis.NewClient(opts)
}

// ATRHistory persists a per-key ring of recent ATR samples to a Redis list so
// a restarted engine can BulkIngest them into atrtracker.Tracker instead of
// rebuilding percentile accuracy from scratch.
type ATRHistory struct {
	client *redis.Client
	log    zerolog.Logger
	maxLen int64
}

// NewATRHistory wraps client for ATR-history warm caching. client may be
// nil, in which case every method is a no-op returning ok=false.
func NewATRHistory(client *redis.Client, maxLen int, log zerolog.Logger) *ATRHistory {
	if maxLen <= 0 {
		maxLen = 10_000
	}
	return &ATRHistory{client: client, log: log, maxLen: int64(maxLen)}
}

func atrRedisKey(key model.Key) string {
	return atrKeyPrefix + key.String()
}

// Append records one ATR observation at the right end of the list, then
// trims the list to its newest (rightmost) maxLen entries so the oldest
// samples age out first (matches atrtracker's ring semantics: bounded
// history, newest-biased).
func (c *ATRHistory) Append(ctx context.Context, key model.Key, atrValue float64) {
	if c == nil || c.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()

	rkey := atrRedisKey(key)
	pipe := c.client.TxPipeline()
	pipe.RPush(ctx, rkey, strconv.FormatFloat(atrValue, 'g', -1, 64))
	pipe.LTrim(ctx, rkey, -c.maxLen, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn().Err(err).Str("key", rkey).Msg("atr history append failed")
	}
}

var _ signalgen.ATRAppender = (*ATRHistory)(nil)

// Load returns every cached ATR value for key in insertion order, for
// startup BulkIngest. ok is false if the cache is disabled or the key has
// no cached history (a cold key, not an error).
func (c *ATRHistory) Load(ctx context.Context, key model.Key) ([]float64, bool, error) {
	if c == nil || c.client == nil {
		return nil, false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()

	raw, err := c.client.LRange(ctx, atrRedisKey(key), 0, -1).Result()
	if err != nil {
		return nil, false, fmt.Errorf("load atr history %s: %w", key, err)
	}
	if len(raw) == 0 {
		return nil, false, nil
	}
	out := make([]float64, len(raw))
	for i, s := range raw {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, false, fmt.Errorf("parse cached atr %s[%d]=%q: %w", key, i, s, err)
		}
		out[i] = v
	}
	return out, true, nil
}

// LockMirror republishes position-lock state to Redis for cross-process
// visibility when multiple signalengine replicas share the same instrument
// universe, satisfying poslock.Mirror.
type LockMirror struct {
	client *redis.Client
	log    zerolog.Logger
	ttl    time.Duration
}

// NewLockMirror wraps client as a poslock.Mirror. client may be nil, making
// every call a no-op. ttl bounds how long a stale lock (crash without
// Release) survives in Redis before self-expiring.
func NewLockMirror(client *redis.Client, ttl time.Duration, log zerolog.Logger) *LockMirror {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &LockMirror{client: client, log: log, ttl: ttl}
}

func lockRedisKey(key model.Key) string {
	return lockKeyPrefix + key.String()
}

// Acquire implements poslock.Mirror.
func (m *LockMirror) Acquire(key model.Key, signalID string) {
	if m == nil || m.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultOpTimeout)
	defer cancel()
	if err := m.client.Set(ctx, lockRedisKey(key), signalID, m.ttl).Err(); err != nil {
		m.log.Warn().Err(err).Str("key", key.String()).Msg("lock mirror acquire failed")
	}
}

// Release implements poslock.Mirror.
func (m *LockMirror) Release(key model.Key) {
	if m == nil || m.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultOpTimeout)
	defer cancel()
	if err := m.client.Del(ctx, lockRedisKey(key)).Err(); err != nil {
		m.log.Warn().Err(err).Str("key", key.String()).Msg("lock mirror release failed")
	}
}

var _ poslock.Mirror = (*LockMirror)(nil)
