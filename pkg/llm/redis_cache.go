package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kart-io/logger"
	"github.com/redis/go-redis/v9"
)

// RedisEmbeddingCache is an optional second cache tier that survives process
// restarts. It wraps an EmbeddingProvider: lookups go to Redis first and fall
// through to the provider on miss. Redis failures degrade to the provider,
// they never fail the request.
type RedisEmbeddingCache struct {
	provider EmbeddingProvider
	client   redis.UniversalClient
	ttl      time.Duration
	prefix   string
}

const defaultRedisTTL = 24 * time.Hour

// NewRedisEmbeddingCache wraps provider with a Redis-backed cache tier.
// ttl <= 0 selects the default of 24 hours.
func NewRedisEmbeddingCache(provider EmbeddingProvider, client redis.UniversalClient, ttl time.Duration) *RedisEmbeddingCache {
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	return &RedisEmbeddingCache{
		provider: provider,
		client:   client,
		ttl:      ttl,
		prefix:   "replyx:emb:",
	}
}

// WithPrefix overrides the key prefix and returns the cache.
func (c *RedisEmbeddingCache) WithPrefix(prefix string) *RedisEmbeddingCache {
	if prefix != "" {
		c.prefix = prefix
	}
	return c
}

func (c *RedisEmbeddingCache) redisKey(text string) string {
	return c.prefix + CacheKey(c.provider.ModelVersion(), text)
}

// Embed generates embeddings for multiple texts, serving cached vectors
// where available and computing only the misses.
func (c *RedisEmbeddingCache) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int

	for i, text := range texts {
		if vec, ok := c.lookup(ctx, text); ok {
			vectors[i] = vec
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		return vectors, nil
	}

	computed, err := c.provider.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(computed) != len(missTexts) {
		return nil, fmt.Errorf("provider returned %d embeddings for %d texts", len(computed), len(missTexts))
	}

	for i, vec := range computed {
		vectors[missIdx[i]] = vec
		c.put(ctx, missTexts[i], vec)
	}

	return vectors, nil
}

// EmbedSingle generates the embedding for one text through the cache.
func (c *RedisEmbeddingCache) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := c.lookup(ctx, text); ok {
		return vec, nil
	}

	vec, err := c.provider.EmbedSingle(ctx, text)
	if err != nil {
		return nil, err
	}
	c.put(ctx, text, vec)
	return vec, nil
}

func (c *RedisEmbeddingCache) lookup(ctx context.Context, text string) ([]float32, bool) {
	raw, err := c.client.Get(ctx, c.redisKey(text)).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Debugw("redis embedding lookup failed", "error", err.Error())
		}
		return nil, false
	}

	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		logger.Warnw("corrupt cached embedding dropped", "error", err.Error())
		c.client.Del(ctx, c.redisKey(text))
		return nil, false
	}
	return vec, true
}

func (c *RedisEmbeddingCache) put(ctx context.Context, text string, vec []float32) {
	raw, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.redisKey(text), raw, c.ttl).Err(); err != nil {
		logger.Debugw("redis embedding store failed", "error", err.Error())
	}
}

// ModelVersion returns the underlying provider's model version.
func (c *RedisEmbeddingCache) ModelVersion() string {
	return c.provider.ModelVersion()
}

// Name returns the wrapped provider name.
func (c *RedisEmbeddingCache) Name() string {
	return c.provider.Name()
}

var _ EmbeddingProvider = (*RedisEmbeddingCache)(nil)
