package biz

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/reply-x/internal/model"
	"github.com/kart-io/reply-x/pkg/errors"
	"github.com/kart-io/reply-x/pkg/llm"
	"github.com/kart-io/reply-x/pkg/llm/resilience"
)

func TestDetectLanguageBelowThreshold(t *testing.T) {
	tests := []struct {
		name       string
		detected   string
		confidence float64
		want       string
	}{
		{"confident english", "en", 0.95, "en"},
		{"below threshold", "en", 0.3, "und"},
		{"unknown code", "xx", 0.9, "und"},
		{"region subtag stripped", "pt-BR", 0.9, "pt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &fakeAnalysis{
				detectFn: func(ctx context.Context, text string) (*llm.Detection, error) {
					return &llm.Detection{Language: tt.detected, Confidence: tt.confidence}, nil
				},
			}
			a := NewAnalyzer(provider, testAnalyzerConfig())

			signal, err := a.DetectLanguage(context.Background(), "hello there")
			require.NoError(t, err)
			assert.Equal(t, model.SignalLanguage, signal.Kind)
			assert.Equal(t, tt.want, signal.Label)
		})
	}
}

func TestAnalyzeSentimentUnknownLabelDegradesToNeutral(t *testing.T) {
	provider := &fakeAnalysis{
		sentimentFn: func(ctx context.Context, text, language string) (*llm.SentimentResult, error) {
			return &llm.SentimentResult{Sentiment: "ecstatic", Score: 1.7}, nil
		},
	}
	a := NewAnalyzer(provider, testAnalyzerConfig())

	signal, err := a.AnalyzeSentiment(context.Background(), "great!", model.LanguageEnglish)
	require.NoError(t, err)
	assert.Equal(t, model.SentimentNeutral, signal.Label)
	assert.Equal(t, 1.0, signal.Score, "score clamps to [0,1]")
}

func TestRecognizeIntentDropsOutOfBoundsEntities(t *testing.T) {
	provider := &fakeAnalysis{
		intentFn: func(ctx context.Context, text, language string) (*llm.IntentResult, error) {
			return &llm.IntentResult{
				Intent:     "order_status",
				Confidence: 0.9,
				Entities: []llm.IntentEntity{
					{Type: "order_id", Value: "12345", Start: 9, End: 14},
					{Type: "bogus", Value: "x", Start: -1, End: 3},
					{Type: "bogus", Value: "y", Start: 5, End: 500},
					{Type: "bogus", Value: "z", Start: 7, End: 7},
				},
			}, nil
		},
	}
	a := NewAnalyzer(provider, testAnalyzerConfig())

	signal, err := a.RecognizeIntent(context.Background(), "order is 12345 late", model.LanguageEnglish)
	require.NoError(t, err)
	assert.Equal(t, "order_status", signal.Label)
	require.Len(t, signal.Entities, 1)
	assert.Equal(t, "order_id", signal.Entities[0].Type)
}

func TestAnalyzerUpstreamError(t *testing.T) {
	provider := &fakeAnalysis{
		sentimentFn: func(ctx context.Context, text, language string) (*llm.SentimentResult, error) {
			return nil, stderrors.New("model offline")
		},
	}
	a := NewAnalyzer(provider, testAnalyzerConfig())

	_, err := a.AnalyzeSentiment(context.Background(), "hi", model.LanguageEnglish)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrUpstreamAnalysis.Code))
}

func TestAnalyzerBreakerShedsAfterRepeatedFailures(t *testing.T) {
	var calls int
	provider := &fakeAnalysis{
		sentimentFn: func(ctx context.Context, text, language string) (*llm.SentimentResult, error) {
			calls++
			return nil, stderrors.New("model offline")
		},
	}

	cfg := testAnalyzerConfig()
	cfg.Breaker = &resilience.CircuitBreakerConfig{
		MaxFailures:      2,
		Timeout:          time.Minute,
		HalfOpenMaxCalls: 1,
	}
	a := NewAnalyzer(provider, cfg)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := a.AnalyzeSentiment(ctx, "hi", model.LanguageEnglish)
		require.Error(t, err)
	}
	require.Equal(t, 2, calls)

	// The breaker is open now; the provider must not be hit again, across
	// all signal kinds.
	_, err := a.AnalyzeSentiment(ctx, "hi", model.LanguageEnglish)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrUpstreamAnalysis.Code))
	assert.ErrorIs(t, err, resilience.ErrCircuitBreakerOpen)

	_, err = a.DetectLanguage(ctx, "hola")
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrCircuitBreakerOpen)
	assert.Equal(t, 2, calls)
}

func TestAnalyzerRejectsEmptyText(t *testing.T) {
	a := NewAnalyzer(&fakeAnalysis{}, testAnalyzerConfig())

	_, err := a.DetectLanguage(context.Background(), "")
	assert.True(t, errors.IsCode(err, errors.ErrValidation.Code))
	_, err = a.AnalyzeSentiment(context.Background(), "", model.LanguageEnglish)
	assert.True(t, errors.IsCode(err, errors.ErrValidation.Code))
	_, err = a.RecognizeIntent(context.Background(), "", model.LanguageEnglish)
	assert.True(t, errors.IsCode(err, errors.ErrValidation.Code))
}
