package llm

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/kart-io/logger"
	"golang.org/x/sync/singleflight"
)

// CacheKey derives the cache key for a (model version, text) pair. The model
// version is part of the key so vectors produced by different models never
// collide.
func CacheKey(modelVersion, text string) string {
	h := sha256.New()
	h.Write([]byte(modelVersion))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// EmbeddingCache caches computed embeddings in a bounded LRU and collapses
// concurrent requests for the same text into a single provider call. Only
// successful computations are cached; a failed call is reported to every
// waiter and leaves no cache entry behind.
type EmbeddingCache struct {
	provider EmbeddingProvider
	capacity int

	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List

	group singleflight.Group

	hits   int64
	misses int64
}

type cacheEntry struct {
	key    string
	vector []float32
}

// EmbeddingCacheStats is a snapshot of cache counters.
type EmbeddingCacheStats struct {
	Size   int   `json:"size"`
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

const defaultCacheCapacity = 4096

// NewEmbeddingCache creates a cache in front of the given provider.
// capacity <= 0 selects the default.
func NewEmbeddingCache(provider EmbeddingProvider, capacity int) *EmbeddingCache {
	if capacity <= 0 {
		capacity = defaultCacheCapacity
	}
	return &EmbeddingCache{
		provider: provider,
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// GetOrCompute returns the embedding for text under the provider's model
// version, computing it at most once across concurrent callers. Callers
// waiting on an in-flight computation honor their own ctx; the computation
// itself is not canceled when one waiter gives up.
func (c *EmbeddingCache) GetOrCompute(ctx context.Context, text string) ([]float32, error) {
	key := CacheKey(c.provider.ModelVersion(), text)

	c.mu.Lock()
	if el, ok := c.entries[key]; ok {
		c.lru.MoveToFront(el)
		c.hits++
		vec := el.Value.(*cacheEntry).vector
		c.mu.Unlock()
		return vec, nil
	}
	c.misses++
	c.mu.Unlock()

	ch := c.group.DoChan(key, func() (any, error) {
		vec, err := c.provider.EmbedSingle(context.WithoutCancel(ctx), text)
		if err != nil {
			return nil, err
		}
		c.store(key, vec)
		return vec, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			logger.Warnw("embedding computation failed",
				"provider", c.provider.Name(),
				"error", res.Err.Error(),
			)
			return nil, res.Err
		}
		return res.Val.([]float32), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *EmbeddingCache) store(key string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.lru.MoveToFront(el)
		el.Value.(*cacheEntry).vector = vector
		return
	}

	el := c.lru.PushFront(&cacheEntry{key: key, vector: vector})
	c.entries[key] = el

	for c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.lru.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

// Invalidate removes the cached embedding for text, if present.
func (c *EmbeddingCache) Invalidate(text string) {
	key := CacheKey(c.provider.ModelVersion(), text)

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.lru.Remove(el)
		delete(c.entries, key)
	}
}

// Purge drops every cached entry.
func (c *EmbeddingCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.lru.Init()
}

// Stats returns a snapshot of the cache counters.
func (c *EmbeddingCache) Stats() EmbeddingCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return EmbeddingCacheStats{
		Size:   c.lru.Len(),
		Hits:   c.hits,
		Misses: c.misses,
	}
}

// ModelVersion returns the underlying provider's model version.
func (c *EmbeddingCache) ModelVersion() string {
	return c.provider.ModelVersion()
}
