package llm

import (
	"context"

	"github.com/kart-io/reply-x/pkg/llm/resilience"
)

// ResilientEmbedder wraps an EmbeddingProvider with retry and a circuit
// breaker. A failing embedding upstream is shed at this layer, before cache
// tiers and callers see repeated slow failures.
type ResilientEmbedder struct {
	provider EmbeddingProvider
	retry    *resilience.RetryConfig
	breaker  *resilience.CircuitBreaker
}

// NewResilientEmbedder creates a ResilientEmbedder. Nil configs take the
// resilience package defaults.
func NewResilientEmbedder(provider EmbeddingProvider, retry *resilience.RetryConfig, breaker *resilience.CircuitBreakerConfig) *ResilientEmbedder {
	return &ResilientEmbedder{
		provider: provider,
		retry:    retry,
		breaker:  resilience.NewCircuitBreaker(breaker),
	}
}

// Embed embeds a batch of texts through the retry and breaker layers.
func (r *ResilientEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := resilience.RetryWithCircuitBreaker(ctx, r.retry, r.breaker, func() error {
		var callErr error
		out, callErr = r.provider.Embed(ctx, texts)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// EmbedSingle embeds one text through the retry and breaker layers.
func (r *ResilientEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := resilience.RetryWithCircuitBreaker(ctx, r.retry, r.breaker, func() error {
		var callErr error
		out, callErr = r.provider.EmbedSingle(ctx, text)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ModelVersion reports the wrapped provider's model version.
func (r *ResilientEmbedder) ModelVersion() string { return r.provider.ModelVersion() }

// Name reports the wrapped provider's name.
func (r *ResilientEmbedder) Name() string { return r.provider.Name() }

// BreakerState exposes the breaker state for health reporting.
func (r *ResilientEmbedder) BreakerState() resilience.CircuitBreakerState { return r.breaker.State() }

var _ EmbeddingProvider = (*ResilientEmbedder)(nil)
