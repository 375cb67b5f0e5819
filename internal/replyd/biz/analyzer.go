package biz

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/kart-io/logger"

	"github.com/kart-io/reply-x/internal/model"
	"github.com/kart-io/reply-x/pkg/errors"
	"github.com/kart-io/reply-x/pkg/llm"
	"github.com/kart-io/reply-x/pkg/llm/resilience"
)

// AnalyzerConfig configures the signal analyzers.
type AnalyzerConfig struct {
	// SignalTimeout bounds a single analyzer call.
	SignalTimeout time.Duration
	// LanguageThreshold is the minimum detection confidence; detections
	// below it report LanguageUnknown.
	LanguageThreshold float64
	// Retry configures upstream retries.
	Retry *resilience.RetryConfig
	// Breaker configures the circuit breaker shared by all analysis calls
	// against the provider.
	Breaker *resilience.CircuitBreakerConfig
}

// DefaultAnalyzerConfig returns the default analyzer configuration.
func DefaultAnalyzerConfig() *AnalyzerConfig {
	return &AnalyzerConfig{
		SignalTimeout:     10 * time.Second,
		LanguageThreshold: 0.5,
		Retry:             resilience.DefaultRetryConfig(),
		Breaker:           resilience.DefaultCircuitBreakerConfig(),
	}
}

// Analyzer runs the language, sentiment and intent analyzers. All methods
// are side-effect free and safe to invoke concurrently; results are computed
// fresh per call, never cached across distinct inputs.
type Analyzer struct {
	provider llm.AnalysisProvider
	config   *AnalyzerConfig
	breaker  *resilience.CircuitBreaker
}

// NewAnalyzer creates an Analyzer backed by the given analysis provider.
// One circuit breaker guards every call to the provider, so a failing
// upstream is shed once instead of per signal kind.
func NewAnalyzer(provider llm.AnalysisProvider, config *AnalyzerConfig) *Analyzer {
	if config == nil {
		config = DefaultAnalyzerConfig()
	}
	return &Analyzer{
		provider: provider,
		config:   config,
		breaker:  resilience.NewCircuitBreaker(config.Breaker),
	}
}

func (a *Analyzer) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.config.SignalTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.config.SignalTimeout)
}

// DetectLanguage classifies the language of text. Below-threshold or
// unrecognized detections come back as LanguageUnknown with the reported
// score, never as an error.
func (a *Analyzer) DetectLanguage(ctx context.Context, text string) (*model.SignalResult, error) {
	if text == "" {
		return nil, errors.ErrValidation.WithMessage("text is required")
	}

	callCtx, cancel := a.callCtx(ctx)
	defer cancel()

	var detection *llm.Detection
	err := resilience.RetryWithCircuitBreaker(callCtx, a.config.Retry, a.breaker, func() error {
		var callErr error
		detection, callErr = a.provider.DetectLanguage(callCtx, text)
		return callErr
	})
	if err != nil {
		return nil, errors.ErrUpstreamAnalysis.WithCause(err)
	}

	lang := model.ParseLanguage(detection.Language)
	if detection.Confidence < a.config.LanguageThreshold {
		logger.Debugw("language detection below threshold",
			"detected", detection.Language,
			"confidence", detection.Confidence,
		)
		lang = model.LanguageUnknown
	}

	return &model.SignalResult{
		Kind:  model.SignalLanguage,
		Label: lang.String(),
		Score: clampScore(detection.Confidence),
	}, nil
}

// AnalyzeSentiment classifies the sentiment of text. Labels outside the
// closed sentiment set degrade to neutral.
func (a *Analyzer) AnalyzeSentiment(ctx context.Context, text string, language model.Language) (*model.SignalResult, error) {
	if text == "" {
		return nil, errors.ErrValidation.WithMessage("text is required")
	}

	callCtx, cancel := a.callCtx(ctx)
	defer cancel()

	var result *llm.SentimentResult
	err := resilience.RetryWithCircuitBreaker(callCtx, a.config.Retry, a.breaker, func() error {
		var callErr error
		result, callErr = a.provider.AnalyzeSentiment(callCtx, text, language.String())
		return callErr
	})
	if err != nil {
		return nil, errors.ErrUpstreamAnalysis.WithCause(err)
	}

	label := result.Sentiment
	switch label {
	case model.SentimentPositive, model.SentimentNeutral, model.SentimentNegative, model.SentimentFrustrated:
	default:
		logger.Warnw("unrecognized sentiment label, degrading to neutral", "label", label)
		label = model.SentimentNeutral
	}

	return &model.SignalResult{
		Kind:      model.SignalSentiment,
		Label:     label,
		Score:     clampScore(result.Score),
		Rationale: result.Explanation,
	}, nil
}

// RecognizeIntent classifies the intent of text and extracts entities.
// Entities with spans outside the text bounds are dropped, not surfaced.
func (a *Analyzer) RecognizeIntent(ctx context.Context, text string, language model.Language) (*model.SignalResult, error) {
	if text == "" {
		return nil, errors.ErrValidation.WithMessage("text is required")
	}

	callCtx, cancel := a.callCtx(ctx)
	defer cancel()

	var result *llm.IntentResult
	err := resilience.RetryWithCircuitBreaker(callCtx, a.config.Retry, a.breaker, func() error {
		var callErr error
		result, callErr = a.provider.RecognizeIntent(callCtx, text, language.String())
		return callErr
	})
	if err != nil {
		return nil, errors.ErrUpstreamAnalysis.WithCause(err)
	}

	runeLen := utf8.RuneCountInString(text)
	entities := make([]model.Entity, 0, len(result.Entities))
	for _, e := range result.Entities {
		if e.Start < 0 || e.End > runeLen || e.Start >= e.End {
			logger.Debugw("dropping entity with out-of-bounds span",
				"type", e.Type,
				"start", e.Start,
				"end", e.End,
				"text_len", runeLen,
			)
			continue
		}
		entities = append(entities, model.Entity{
			Type:  e.Type,
			Value: e.Value,
			Start: e.Start,
			End:   e.End,
		})
	}

	return &model.SignalResult{
		Kind:     model.SignalIntent,
		Label:    result.Intent,
		Score:    clampScore(result.Confidence),
		Entities: entities,
	}, nil
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
