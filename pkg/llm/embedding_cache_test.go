package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEmbedder struct {
	version string
	calls   atomic.Int64
	delay   time.Duration
	fail    atomic.Bool
}

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := s.EmbedSingle(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *stubEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.fail.Load() {
		return nil, errors.New("provider unavailable")
	}
	return []float32{float32(len(text)), 1, 0}, nil
}

func (s *stubEmbedder) ModelVersion() string { return s.version }
func (s *stubEmbedder) Name() string         { return "stub" }

func TestEmbeddingCacheHit(t *testing.T) {
	provider := &stubEmbedder{version: "v1"}
	cache := NewEmbeddingCache(provider, 16)

	ctx := context.Background()

	vec1, err := cache.GetOrCompute(ctx, "hello world")
	require.NoError(t, err)
	require.NotEmpty(t, vec1)

	vec2, err := cache.GetOrCompute(ctx, "hello world")
	require.NoError(t, err)
	assert.Equal(t, vec1, vec2)

	assert.Equal(t, int64(1), provider.calls.Load())

	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestEmbeddingCacheSingleFlight(t *testing.T) {
	provider := &stubEmbedder{version: "v1", delay: 50 * time.Millisecond}
	cache := NewEmbeddingCache(provider, 16)

	ctx := context.Background()

	const waiters = 20
	var wg sync.WaitGroup
	errs := make([]error, waiters)

	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = cache.GetOrCompute(ctx, "same text")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), provider.calls.Load(), "concurrent callers must collapse into one provider call")
}

func TestEmbeddingCacheFailureNotCached(t *testing.T) {
	provider := &stubEmbedder{version: "v1"}
	provider.fail.Store(true)
	cache := NewEmbeddingCache(provider, 16)

	ctx := context.Background()

	_, err := cache.GetOrCompute(ctx, "doomed")
	require.Error(t, err)
	assert.Equal(t, 0, cache.Stats().Size)

	provider.fail.Store(false)
	vec, err := cache.GetOrCompute(ctx, "doomed")
	require.NoError(t, err)
	assert.NotEmpty(t, vec)
}

func TestEmbeddingCacheEviction(t *testing.T) {
	provider := &stubEmbedder{version: "v1"}
	cache := NewEmbeddingCache(provider, 3)

	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := cache.GetOrCompute(ctx, fmt.Sprintf("text-%d", i))
		require.NoError(t, err)
	}

	assert.Equal(t, 3, cache.Stats().Size)

	// Oldest entries were evicted, so they recompute.
	before := provider.calls.Load()
	_, err := cache.GetOrCompute(ctx, "text-0")
	require.NoError(t, err)
	assert.Equal(t, before+1, provider.calls.Load())
}

func TestEmbeddingCacheWaiterContext(t *testing.T) {
	provider := &stubEmbedder{version: "v1", delay: 200 * time.Millisecond}
	cache := NewEmbeddingCache(provider, 16)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := cache.GetOrCompute(ctx, "slow")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCacheKeyVersionScoped(t *testing.T) {
	assert.NotEqual(t, CacheKey("v1", "text"), CacheKey("v2", "text"))
	assert.NotEqual(t, CacheKey("v1", "a"), CacheKey("v1", "b"))
	assert.Equal(t, CacheKey("v1", "a"), CacheKey("v1", "a"))
	// The separator keeps (version, text) concatenation unambiguous.
	assert.NotEqual(t, CacheKey("v1x", "y"), CacheKey("v1", "xy"))
}
