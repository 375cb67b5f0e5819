package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/reply-x/pkg/llm/resilience"
)

func fastRetry() *resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = 1
	return cfg
}

func TestResilientEmbedderDelegates(t *testing.T) {
	stub := &stubEmbedder{version: "v1"}
	re := NewResilientEmbedder(stub, fastRetry(), nil)

	vec, err := re.EmbedSingle(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 1, 0}, vec)
	assert.Equal(t, "v1", re.ModelVersion())
	assert.Equal(t, "stub", re.Name())

	vecs, err := re.Embed(context.Background(), []string{"a", "bb"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
}

func TestResilientEmbedderRetries(t *testing.T) {
	stub := &stubEmbedder{version: "v1"}
	stub.fail.Store(true)

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = 3
	retry.InitialDelay = time.Millisecond
	re := NewResilientEmbedder(stub, retry, nil)

	_, err := re.EmbedSingle(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, int64(3), stub.calls.Load())
}

func TestResilientEmbedderBreakerOpens(t *testing.T) {
	stub := &stubEmbedder{version: "v1"}
	stub.fail.Store(true)

	re := NewResilientEmbedder(stub, fastRetry(), &resilience.CircuitBreakerConfig{
		MaxFailures:      2,
		Timeout:          time.Minute,
		HalfOpenMaxCalls: 1,
	})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := re.EmbedSingle(ctx, "hello")
		require.Error(t, err)
	}
	require.Equal(t, int64(2), stub.calls.Load())
	assert.Equal(t, resilience.StateOpen, re.BreakerState())

	// Open breaker sheds without reaching the provider.
	_, err := re.EmbedSingle(ctx, "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrCircuitBreakerOpen)
	assert.Equal(t, int64(2), stub.calls.Load())
}
