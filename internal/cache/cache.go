// Package cache is a Redis read-through for daily price history and the
// latest run snapshot. Bars are keyed by symbol and as-of date, so a re-run
// on the same day never refetches a series that is already complete.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/sawpanic/trendscan/internal/domain"
	"github.com/sawpanic/trendscan/internal/report"
)

const keyPrefix = "trendscan"

// Cache wraps a Redis client with typed accessors.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
	log zerolog.Logger
}

func New(rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *Cache {
	return &Cache{
		rdb: rdb,
		ttl: ttl,
		log: log.With().Str("component", "cache").Logger(),
	}
}

// NewClient builds a Redis client for the given address and database.
func NewClient(addr string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, DB: db})
}

func barsKey(symbol string, asOf time.Time) string {
	return fmt.Sprintf("%s:bars:%s:%s", keyPrefix, symbol, asOf.UTC().Format("2006-01-02"))
}

// GetBars returns the cached daily series for a symbol as of a date. The
// second return is false on a miss; a corrupt entry counts as a miss and is
// dropped rather than poisoning the run.
func (c *Cache) GetBars(ctx context.Context, symbol string, asOf time.Time) ([]domain.PriceBar, bool, error) {
	key := barsKey(symbol, asOf)
	payload, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get %s: %w", key, err)
	}

	var bars []domain.PriceBar
	if err := json.Unmarshal(payload, &bars); err != nil {
		c.log.Warn().Str("key", key).Err(err).Msg("dropping corrupt cache entry")
		c.rdb.Del(ctx, key)
		return nil, false, nil
	}
	return bars, true, nil
}

// SetBars stores a daily series under the run's as-of date.
func (c *Cache) SetBars(ctx context.Context, symbol string, asOf time.Time, bars []domain.PriceBar) error {
	payload, err := json.Marshal(bars)
	if err != nil {
		return fmt.Errorf("encode bars for %s: %w", symbol, err)
	}
	key := barsKey(symbol, asOf)
	if err := c.rdb.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

const snapshotKey = keyPrefix + ":snapshot:latest"

// GetSnapshot returns the cached latest run snapshot. A corrupt entry counts
// as a miss and is dropped.
func (c *Cache) GetSnapshot(ctx context.Context) (report.Snapshot, bool, error) {
	payload, err := c.rdb.Get(ctx, snapshotKey).Bytes()
	if err == redis.Nil {
		return report.Snapshot{}, false, nil
	}
	if err != nil {
		return report.Snapshot{}, false, fmt.Errorf("cache get %s: %w", snapshotKey, err)
	}
	var snap report.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		c.log.Warn().Str("key", snapshotKey).Err(err).Msg("dropping corrupt cache entry")
		c.rdb.Del(ctx, snapshotKey)
		return report.Snapshot{}, false, nil
	}
	return snap, true, nil
}

// SetSnapshot caches the latest run snapshot for the HTTP API.
func (c *Cache) SetSnapshot(ctx context.Context, snap report.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", snap.RunID, err)
	}
	if err := c.rdb.Set(ctx, snapshotKey, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", snapshotKey, err)
	}
	return nil
}

// HealthCheck pings Redis.
func (c *Cache) HealthCheck(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health: %w", err)
	}
	return nil
}

// Close releases the client.
func (c *Cache) Close() error {
	return c.rdb.Close()
}
