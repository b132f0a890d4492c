// Package cache implements the Redis-backed result cache. Entries are keyed
// by a digest of the normalized question and carry the full pipeline
// response. The cache is strictly best effort: every backend failure degrades
// to a miss or a no-op, never to a request failure.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aravula7/agentic-rag-analytics/internal/pipeline"
)

const keyPrefix = "result:"

// Cache stores pipeline responses in Redis with a fixed TTL.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
	log *slog.Logger
}

// New creates a Cache around an existing Redis client.
func New(rdb *redis.Client, ttl time.Duration, log *slog.Logger) *Cache {
	return &Cache{rdb: rdb, ttl: ttl, log: log}
}

// Key derives the cache key for a question. The question is normalized
// before hashing, so formatting and case variants of the same question share
// an entry.
func Key(query string) string {
	sum := sha256.Sum256([]byte(pipeline.Normalize(query)))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// Get looks up a cached response. The stored response embeds the normalized
// question it was computed for; if that does not match the requested one the
// entry is a hash anomaly or corruption, so it is evicted and reported as a
// miss.
func (c *Cache) Get(ctx context.Context, query string) (*pipeline.Response, bool) {
	key := Key(query)
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil && c.log != nil {
			c.log.Warn("cache: get failed", "key", key, "error", err)
		}
		return nil, false
	}

	var resp pipeline.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		if c.log != nil {
			c.log.Warn("cache: corrupt entry, evicting", "key", key, "error", err)
		}
		c.rdb.Del(ctx, key)
		return nil, false
	}

	if resp.Query != pipeline.Normalize(query) {
		if c.log != nil {
			c.log.Warn("cache: stored query mismatch, evicting",
				"key", key, "stored", resp.Query, "requested", pipeline.Normalize(query))
		}
		c.rdb.Del(ctx, key)
		return nil, false
	}

	return &resp, true
}

// Set stores a response under the question's key. Failures are logged and
// dropped.
func (c *Cache) Set(ctx context.Context, query string, resp *pipeline.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		if c.log != nil {
			c.log.Warn("cache: marshal failed", "error", err)
		}
		return
	}
	if err := c.rdb.Set(ctx, Key(query), data, c.ttl).Err(); err != nil {
		if c.log != nil {
			c.log.Warn("cache: set failed", "error", err)
		}
	}
}

// Delete removes the entry for a question, if present.
func (c *Cache) Delete(ctx context.Context, query string) {
	if err := c.rdb.Del(ctx, Key(query)).Err(); err != nil && c.log != nil {
		c.log.Warn("cache: delete failed", "error", err)
	}
}

// Stats describes the current cache population.
type Stats struct {
	Entries int64  `json:"entries"`
	TTL     string `json:"ttl"`
}

// ReadStats counts live result entries. Used by the cache inspection
// endpoint.
func (c *Cache) ReadStats(ctx context.Context) (*Stats, error) {
	var count int64
	iter := c.rdb.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return &Stats{Entries: count, TTL: c.ttl.String()}, nil
}

// Clear drops every result entry and returns the number removed.
func (c *Cache) Clear(ctx context.Context) (int64, error) {
	var removed int64
	iter := c.rdb.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, iter.Err()
}
