package biz

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/reply-x/internal/model"
	"github.com/kart-io/reply-x/internal/replyd/store"
	"github.com/kart-io/reply-x/pkg/errors"
	"github.com/kart-io/reply-x/pkg/llm"
)

// pipelineState tracks progress through the reply pipeline. Transitions are
// strictly linear; a stage that degrades still advances the state.
type pipelineState int

const (
	stateStarted pipelineState = iota
	stateLanguageDetected
	stateSignalsGathered
	stateKnowledgeRetrieved
	stateDraftComposed
	stateToneAdjusted
	stateTranslated
	stateFinalized
)

func (s pipelineState) String() string {
	switch s {
	case stateStarted:
		return "started"
	case stateLanguageDetected:
		return "language_detected"
	case stateSignalsGathered:
		return "signals_gathered"
	case stateKnowledgeRetrieved:
		return "knowledge_retrieved"
	case stateDraftComposed:
		return "draft_composed"
	case stateToneAdjusted:
		return "tone_adjusted"
	case stateTranslated:
		return "translated"
	case stateFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// ComposerConfig configures the reply pipeline.
type ComposerConfig struct {
	// TopK is the number of knowledge sources retrieved per reply.
	TopK int
	// MinScore is the relevance floor for sources.
	MinScore float64
	// Deadline bounds the whole pipeline. Exceeding it fails the request;
	// no partial reply is returned.
	Deadline time.Duration
	// IntentThreshold is the recognition confidence above which the draft
	// is restructured for the customer's intent.
	IntentThreshold float64
	// FallbackLanguage is used when detection fails or comes back below
	// the confidence threshold. LanguageUnknown disables the fallback.
	FallbackLanguage model.Language
}

// DefaultComposerConfig returns the default pipeline configuration.
func DefaultComposerConfig() *ComposerConfig {
	return &ComposerConfig{
		TopK:             5,
		MinScore:         0.55,
		Deadline:         30 * time.Second,
		IntentThreshold:  0.6,
		FallbackLanguage: model.LanguageUnknown,
	}
}

// ReplyComposer drives the reply pipeline: detect language, gather signals,
// retrieve knowledge, compose, adjust tone and optionally translate. Every
// stage except target-language validation and the overall deadline degrades
// gracefully and records itself in the result metadata.
type ReplyComposer struct {
	analyzer  *Analyzer
	retriever *KnowledgeRetriever
	chat      llm.ChatProvider
	analysis  llm.AnalysisProvider
	config    *ComposerConfig
}

// NewReplyComposer creates a ReplyComposer.
func NewReplyComposer(
	analyzer *Analyzer,
	retriever *KnowledgeRetriever,
	chat llm.ChatProvider,
	analysis llm.AnalysisProvider,
	config *ComposerConfig,
) *ReplyComposer {
	if config == nil {
		config = DefaultComposerConfig()
	}
	if config.FallbackLanguage == "" {
		config.FallbackLanguage = model.LanguageUnknown
	}
	return &ReplyComposer{
		analyzer:  analyzer,
		retriever: retriever,
		chat:      chat,
		analysis:  analysis,
		config:    config,
	}
}

// GenerateEnhancedReply runs the full pipeline for a customer query and
// replies in the detected language.
func (c *ReplyComposer) GenerateEnhancedReply(ctx context.Context, query, customerID string) (*model.ReplyResult, error) {
	return c.generate(ctx, query, customerID, "")
}

// GenerateMultilingualReply runs the full pipeline and translates the reply
// into targetLanguage. An unsupported target fails hard before any work.
func (c *ReplyComposer) GenerateMultilingualReply(ctx context.Context, query, customerID string, targetLanguage model.Language) (*model.ReplyResult, error) {
	if !targetLanguage.Supported() {
		return nil, errors.ErrInvalidTargetLanguage.WithMessagef("unsupported target language %q", targetLanguage)
	}
	return c.generate(ctx, query, customerID, targetLanguage)
}

func (c *ReplyComposer) generate(ctx context.Context, query, customerID string, targetLanguage model.Language) (*model.ReplyResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.ErrValidation.WithMessage("query is required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Deadline)
	defer cancel()

	start := time.Now()
	state := stateStarted
	var degraded []string

	advance := func(next pipelineState) {
		state = next
		logger.Debugw("reply pipeline advanced",
			"state", state.String(),
			"customer_id", customerID,
			"elapsed", time.Since(start).String(),
		)
	}

	// Language detection feeds every later stage, so it runs first. When
	// it fails or stays below threshold, the configured fallback language
	// takes over.
	language := c.config.FallbackLanguage
	langSignal, err := c.analyzer.DetectLanguage(ctx, query)
	if err != nil {
		if deadlineHit(ctx) {
			return nil, pipelineTimeout(state, start)
		}
		logger.Warnw("language detection degraded", "error", err.Error())
		degraded = append(degraded, string(model.SignalLanguage))
	} else if detected := model.ParseLanguage(langSignal.Label); detected != model.LanguageUnknown {
		language = detected
	}
	advance(stateLanguageDetected)

	// Sentiment, intent and retrieval are independent; fan out.
	var (
		wg        sync.WaitGroup
		sentiment *model.SignalResult
		intent    *model.SignalResult
		sources   []model.RetrievalMatch

		sentimentErr, intentErr, retrievalErr error
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		sentiment, sentimentErr = c.analyzer.AnalyzeSentiment(ctx, query, language)
	}()
	go func() {
		defer wg.Done()
		intent, intentErr = c.analyzer.RecognizeIntent(ctx, query, language)
	}()
	go func() {
		defer wg.Done()
		sources, retrievalErr = c.retriever.Retrieve(ctx, query, c.sourceFilter(language), c.config.MinScore, c.config.TopK)
	}()
	wg.Wait()

	if deadlineHit(ctx) {
		return nil, pipelineTimeout(state, start)
	}

	if sentimentErr != nil {
		logger.Warnw("sentiment analysis degraded", "error", sentimentErr.Error())
		degraded = append(degraded, string(model.SignalSentiment))
	}
	if intentErr != nil {
		logger.Warnw("intent recognition degraded", "error", intentErr.Error())
		degraded = append(degraded, string(model.SignalIntent))
	}
	advance(stateSignalsGathered)

	if retrievalErr != nil {
		logger.Warnw("knowledge retrieval degraded", "error", retrievalErr.Error())
		degraded = append(degraded, "retrieval")
		sources = nil
	}
	advance(stateKnowledgeRetrieved)

	reply, draftDegraded := c.composeDraft(ctx, query, language, sources)
	if deadlineHit(ctx) {
		return nil, pipelineTimeout(state, start)
	}
	if draftDegraded {
		degraded = append(degraded, "draft")
	}
	advance(stateDraftComposed)

	if sentiment != nil && needsToneAdjustment(sentiment.Label) {
		adjusted, err := c.AdjustBySentiment(ctx, reply, sentiment.Label)
		if err != nil {
			if deadlineHit(ctx) {
				return nil, pipelineTimeout(state, start)
			}
			logger.Warnw("tone adjustment degraded", "error", err.Error())
			degraded = append(degraded, "tone")
		} else {
			reply = adjusted
		}
	}
	// Sentiment and intent adjustments are independent passes; a confident
	// intent restructures the reply even when the tone needed no work.
	if intent != nil && intent.Label != "" && intent.Score >= c.config.IntentThreshold {
		adjusted, err := c.AdjustByIntent(ctx, reply, intent.Label)
		if err != nil {
			if deadlineHit(ctx) {
				return nil, pipelineTimeout(state, start)
			}
			logger.Warnw("intent adjustment degraded", "error", err.Error())
			degraded = append(degraded, "intent_adjustment")
		} else {
			reply = adjusted
		}
	}
	advance(stateToneAdjusted)

	translated := false
	translationFellBack := false
	if targetLanguage != "" && targetLanguage != language {
		out, err := c.analysis.Translate(ctx, reply, targetLanguage.String(), language.String())
		if err != nil {
			if deadlineHit(ctx) {
				return nil, pipelineTimeout(state, start)
			}
			logger.Warnw("translation fell back to source language",
				"target", targetLanguage.String(),
				"error", err.Error(),
			)
			translationFellBack = true
			degraded = append(degraded, "translation")
		} else {
			reply = out
			translated = true
		}
	}
	advance(stateTranslated)

	if deadlineHit(ctx) {
		return nil, pipelineTimeout(state, start)
	}

	result := &model.ReplyResult{
		Reply:      reply,
		Confidence: confidenceFor(sources, translationFellBack),
		Sources:    sources,
		Metadata: model.ReplyMetadata{
			Language:            language,
			Translated:          translated,
			TranslationFellBack: translationFellBack,
			ModelVersion:        c.retriever.ModelVersion(),
			DegradedSignals:     degraded,
		},
	}
	if sentiment != nil {
		result.Metadata.Sentiment = sentiment.Label
	}
	if intent != nil {
		result.Metadata.Intent = intent.Label
	}
	advance(stateFinalized)

	logger.Infow("reply generated",
		"customer_id", customerID,
		"language", language.String(),
		"sources", len(result.Sources),
		"confidence", result.Confidence,
		"degraded", degraded,
		"elapsed", time.Since(start).String(),
	)
	return result, nil
}

// sourceFilter restricts retrieval to the detected language when it is
// known; an unknown language searches the whole base.
func (c *ReplyComposer) sourceFilter(language model.Language) *store.SearchFilter {
	if !language.Supported() {
		return nil
	}
	return &store.SearchFilter{Language: language}
}

func deadlineHit(ctx context.Context) bool {
	return ctx.Err() == context.DeadlineExceeded
}

func pipelineTimeout(state pipelineState, start time.Time) error {
	return errors.ErrPipelineTimeout.WithMessagef(
		"pipeline deadline exceeded in state %s after %s", state.String(), time.Since(start).Round(time.Millisecond))
}

// composeDraft produces the draft reply from the retrieved sources. When
// the chat provider fails, the draft degrades to a deterministic template
// over the top source rather than failing the pipeline.
func (c *ReplyComposer) composeDraft(ctx context.Context, query string, language model.Language, sources []model.RetrievalMatch) (string, bool) {
	prompt := buildDraftPrompt(query, language, sources)

	reply, err := c.chat.Generate(ctx, prompt, draftSystemPrompt)
	if err == nil && strings.TrimSpace(reply) != "" {
		return strings.TrimSpace(reply), false
	}
	if err != nil {
		logger.Warnw("draft composition degraded to template", "error", err.Error())
	}

	if len(sources) > 0 {
		return fmt.Sprintf("Based on our records: %s", sources[0].Content), true
	}
	return "Thanks for reaching out. We could not find a confident answer to your question; a support agent will follow up shortly.", true
}

const draftSystemPrompt = "You are a customer support assistant. Answer using only the provided reference material. Be concise and helpful. If the references do not cover the question, say so honestly."

func buildDraftPrompt(query string, language model.Language, sources []model.RetrievalMatch) string {
	var b strings.Builder

	if len(sources) > 0 {
		b.WriteString("Reference material:\n")
		for _, src := range sources {
			fmt.Fprintf(&b, "[%d] %s\n%s\n\n", src.Rank, src.Title, src.Content)
		}
	} else {
		b.WriteString("No reference material matched this question.\n\n")
	}

	fmt.Fprintf(&b, "Customer question:\n%s\n\n", query)
	if language.Supported() {
		fmt.Fprintf(&b, "Write the reply in language %q.\n", language.String())
	}
	return b.String()
}

func needsToneAdjustment(sentiment string) bool {
	return sentiment == model.SentimentNegative || sentiment == model.SentimentFrustrated
}

// AdjustBySentiment rewrites a reply to match the customer's emotional
// state. Independent of AdjustByIntent; applying both in either order gives
// equivalent results.
func (c *ReplyComposer) AdjustBySentiment(ctx context.Context, reply, sentiment string) (string, error) {
	if strings.TrimSpace(reply) == "" {
		return "", errors.ErrValidation.WithMessage("reply is required")
	}

	prompt := fmt.Sprintf(
		`Rewrite the following support reply for a customer whose sentiment is %q. Keep every fact unchanged; adjust only tone and empathy. Return the rewritten reply text only.

Reply:
%s`, sentiment, reply)

	out, err := c.chat.Generate(ctx, prompt, toneSystemPrompt)
	if err != nil {
		return "", errors.ErrUpstreamAnalysis.WithCause(err)
	}
	if strings.TrimSpace(out) == "" {
		return "", errors.ErrUpstreamAnalysis.WithMessage("empty adjusted reply returned")
	}
	return strings.TrimSpace(out), nil
}

// AdjustByIntent rewrites a reply to better serve the recognized intent.
func (c *ReplyComposer) AdjustByIntent(ctx context.Context, reply, intent string) (string, error) {
	if strings.TrimSpace(reply) == "" {
		return "", errors.ErrValidation.WithMessage("reply is required")
	}

	prompt := fmt.Sprintf(
		`Rewrite the following support reply so it directly serves a customer whose intent is %q. Keep every fact unchanged. Return the rewritten reply text only.

Reply:
%s`, intent, reply)

	out, err := c.chat.Generate(ctx, prompt, toneSystemPrompt)
	if err != nil {
		return "", errors.ErrUpstreamAnalysis.WithCause(err)
	}
	if strings.TrimSpace(out) == "" {
		return "", errors.ErrUpstreamAnalysis.WithMessage("empty adjusted reply returned")
	}
	return strings.TrimSpace(out), nil
}

// Translate renders an existing reply into targetLanguage. Unlike the
// pipeline's translation stage, there is no fallback here; the caller asked
// for a translation explicitly.
func (c *ReplyComposer) Translate(ctx context.Context, reply string, targetLanguage model.Language) (string, error) {
	if !targetLanguage.Supported() {
		return "", errors.ErrInvalidTargetLanguage.WithMessagef("unsupported target language %q", targetLanguage)
	}
	if strings.TrimSpace(reply) == "" {
		return "", errors.ErrValidation.WithMessage("reply is required")
	}

	out, err := c.analysis.Translate(ctx, reply, targetLanguage.String(), "")
	if err != nil {
		return "", errors.ErrUpstreamAnalysis.WithCause(err)
	}
	return out, nil
}

const toneSystemPrompt = "You rewrite customer support replies. Never add, remove or change facts. Output only the rewritten reply."

// Confidence weights, tuned so a single strong source clears the
// high-confidence bar and zero sources stay well below it.
const (
	confBase        = 0.3
	confTopWeight   = 0.55
	confCountWeight = 0.15
	confSpreadPen   = 0.05
	confNoSources   = 0.2
	confFallbackMul = 0.85
)

// confidenceFor computes the reply confidence from its sources. Monotone in
// top score and source count; a wide score spread among used sources
// applies a small penalty; translation fallback applies a multiplicative
// one. Always in [0,1].
func confidenceFor(sources []model.RetrievalMatch, translationFellBack bool) float64 {
	var conf float64
	if len(sources) == 0 {
		conf = confNoSources
	} else {
		top := sources[0].Score
		low := sources[len(sources)-1].Score
		count := float64(len(sources)) / 3
		if count > 1 {
			count = 1
		}
		conf = confBase + confTopWeight*top + confCountWeight*count - confSpreadPen*(top-low)
	}

	if translationFellBack {
		conf *= confFallbackMul
	}
	return clampScore(conf)
}
