// Package cache provides the EmbeddingCache: a Redis-backed, single-flight
// memoization layer in front of the upstream embedding provider.
package cache

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// ErrMiss is returned by Get when the key is absent from the cache.
var ErrMiss = errors.New("cache: miss")

// EmbeddingProvider is the upstream vectorizer called on a cache miss.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingCache memoizes vectorizer output by content hash with a bounded
// TTL. Concurrent misses for the same key coalesce into a single upstream
// call via singleflight. Any Redis error makes the cache fail open: the
// caller falls through to the provider directly rather than erroring.
type EmbeddingCache struct {
	redis *redis.Client
	group singleflight.Group
	ttl   time.Duration
}

// New creates an EmbeddingCache backed by client with the given default TTL.
func New(client *redis.Client, ttl time.Duration) *EmbeddingCache {
	return &EmbeddingCache{redis: client, ttl: ttl}
}

// Key returns the spec'd keyspace for text: embedding:v1:<hex-sha256-of-text>.
func Key(text string) string {
	h := sha256.Sum256([]byte(text))
	return fmt.Sprintf("embedding:v1:%x", h)
}

// RetrieverKey returns the Retriever's own secondary cache keyspace,
// per spec.md §6: retriever:embeddings:<md5-text>. Kept distinct from Key's
// namespace so the Retriever's re-embedding of stale chunks never collides
// with or evicts the primary admission-path cache entries.
func RetrieverKey(text string) string {
	h := md5.Sum([]byte(text))
	return fmt.Sprintf("retriever:embeddings:%x", h)
}

// Get returns the cached vector for text, or ErrMiss if absent. A Redis
// error is treated the same as a miss (fail open), after being logged.
func (c *EmbeddingCache) Get(ctx context.Context, text string) ([]float32, error) {
	return c.getAt(ctx, Key(text))
}

// Put stores vector for text with the given TTL (0 uses the cache default).
// Errors are logged and swallowed: caching is never allowed to fail a
// request that already has its answer.
func (c *EmbeddingCache) Put(ctx context.Context, text string, vector []float32, ttl time.Duration) {
	c.putAt(ctx, Key(text), vector, ttl)
}

// GetOrCompute returns the cached embedding for text, computing it via
// provider on a miss. Concurrent GetOrCompute calls for the same text
// coalesce into a single provider call (single-flight), per spec.md §4.1.
func (c *EmbeddingCache) GetOrCompute(ctx context.Context, text string, provider EmbeddingProvider) ([]float32, error) {
	return c.getOrComputeAt(ctx, Key(text), text, provider)
}

// GetOrComputeRetrieverCache is the Retriever's own secondary memoization
// path (RetrieverKey's namespace), used when the Retriever finds a stored
// chunk embedding no longer matches the chunk's current content hash and
// must re-embed it to keep search results correct.
func (c *EmbeddingCache) GetOrComputeRetrieverCache(ctx context.Context, text string, provider EmbeddingProvider) ([]float32, error) {
	return c.getOrComputeAt(ctx, RetrieverKey(text), text, provider)
}

func (c *EmbeddingCache) getAt(ctx context.Context, key string) ([]float32, error) {
	raw, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		slog.Warn("embedding cache get failed, bypassing", "error", err)
		return nil, ErrMiss
	}

	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		slog.Warn("embedding cache corrupt entry, bypassing", "error", err)
		return nil, ErrMiss
	}
	return vec, nil
}

func (c *EmbeddingCache) putAt(ctx context.Context, key string, vector []float32, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	raw, err := json.Marshal(vector)
	if err != nil {
		slog.Warn("embedding cache marshal failed", "error", err)
		return
	}
	if err := c.redis.Set(ctx, key, raw, ttl).Err(); err != nil {
		slog.Warn("embedding cache put failed", "error", err)
	}
}

func (c *EmbeddingCache) getOrComputeAt(ctx context.Context, key, text string, provider EmbeddingProvider) ([]float32, error) {
	if vec, err := c.getAt(ctx, key); err == nil {
		return vec, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		vec, err := provider.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		c.putAt(ctx, key, vec, 0)
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}
