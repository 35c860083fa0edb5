package search

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/bookworks/booksearch/internal/store"
	"github.com/bookworks/booksearch/pkg/config"
	pkgredis "github.com/bookworks/booksearch/pkg/redis"
)

const cacheKeyPrefix = "semsearch:"

// QueryCache caches semantic search results in Redis for a short TTL and
// collapses concurrent identical queries with singleflight. The index is
// eventually consistent anyway, so the pipeline does not invalidate the
// cache on writes; the TTL bounds staleness.
type QueryCache struct {
	client *pkgredis.Client
	cfg    config.RedisConfig
	group  singleflight.Group
	logger *slog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// NewQueryCache creates a QueryCache over the given Redis client.
func NewQueryCache(client *pkgredis.Client, cfg config.RedisConfig) *QueryCache {
	return &QueryCache{
		client: client,
		cfg:    cfg,
		logger: slog.Default().With("component", "query-cache"),
	}
}

func (c *QueryCache) get(ctx context.Context, queryText string, topK int) ([]store.Hit, bool) {
	key := c.buildKey(queryText, topK)
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.misses.Add(1)
		return nil, false
	}
	var hits []store.Hit
	if err := json.Unmarshal([]byte(data), &hits); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return hits, true
}

func (c *QueryCache) set(ctx context.Context, queryText string, topK int, hits []store.Hit) {
	key := c.buildKey(queryText, topK)
	data, err := json.Marshal(hits)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.cfg.CacheTTL); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns cached hits for the query or computes and caches
// them. The bool reports whether the cache served the result.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	queryText string,
	topK int,
	computeFn func() ([]store.Hit, error),
) ([]store.Hit, bool, error) {
	if hits, ok := c.get(ctx, queryText, topK); ok {
		return hits, true, nil
	}
	key := c.buildKey(queryText, topK)
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		if hits, ok := c.get(ctx, queryText, topK); ok {
			return hits, nil
		}
		hits, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.set(ctx, queryText, topK, hits)
		return hits, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.([]store.Hit), false, nil
}

// Invalidate removes every cached query result.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	deleted, err := c.client.FlushByPattern(ctx, cacheKeyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating query cache: %w", err)
	}
	c.logger.Info("query cache invalidated", "keys_deleted", deleted)
	return nil
}

// Stats returns cumulative hit and miss counts.
func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *QueryCache) buildKey(queryText string, topK int) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(queryText)), " ")
	raw := fmt.Sprintf("%s:k=%d", normalized, topK)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", cacheKeyPrefix, hash[:16])
}
