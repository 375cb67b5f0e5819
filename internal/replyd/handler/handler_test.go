package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/reply-x/internal/replyd/biz"
	"github.com/kart-io/reply-x/internal/replyd/handler"
	"github.com/kart-io/reply-x/internal/replyd/router"
	"github.com/kart-io/reply-x/internal/replyd/store"
	"github.com/kart-io/reply-x/pkg/errors"
	"github.com/kart-io/reply-x/pkg/llm"
	"github.com/kart-io/reply-x/pkg/llm/resilience"
	"github.com/kart-io/reply-x/pkg/pool"
)

type stubAnalysis struct{}

func (stubAnalysis) DetectLanguage(ctx context.Context, text string) (*llm.Detection, error) {
	return &llm.Detection{Language: "en", Confidence: 0.97}, nil
}

func (stubAnalysis) AnalyzeSentiment(ctx context.Context, text, language string) (*llm.SentimentResult, error) {
	return &llm.SentimentResult{Sentiment: "neutral", Score: 0.8}, nil
}

func (stubAnalysis) RecognizeIntent(ctx context.Context, text, language string) (*llm.IntentResult, error) {
	return &llm.IntentResult{Intent: "question", Confidence: 0.9}, nil
}

func (stubAnalysis) Translate(ctx context.Context, text, target, source string) (string, error) {
	return "[" + target + "] " + text, nil
}

func (stubAnalysis) Summarize(ctx context.Context, messages []string) (*llm.SummaryResult, error) {
	return &llm.SummaryResult{Summary: "customer asked about shipping"}, nil
}

// brokenSentimentAnalysis degrades the sentiment signal only.
type brokenSentimentAnalysis struct {
	stubAnalysis
}

func (brokenSentimentAnalysis) AnalyzeSentiment(ctx context.Context, text, language string) (*llm.SentimentResult, error) {
	return nil, stderrors.New("sentiment model offline")
}

type stubChat struct{}

func (stubChat) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	return "stub reply", nil
}

func (stubChat) Generate(ctx context.Context, prompt, system string) (string, error) {
	return "stub reply", nil
}

func (stubChat) Name() string { return "stub-chat" }

type stubEmbedder struct{}

func (stubEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	// Deterministic per-text vector so identical texts match exactly.
	vec := []float32{1, 1, 1}
	for i, r := range text {
		vec[i%3] += float32(r % 13)
	}
	return vec, nil
}

func (s stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := s.EmbedSingle(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (stubEmbedder) ModelVersion() string { return "embed-v1" }
func (stubEmbedder) Name() string         { return "stub-embedder" }

// envelope mirrors the response body shape.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestEngine(t *testing.T) *gin.Engine {
	return newTestEngineWith(t, stubAnalysis{})
}

func newTestEngineWith(t *testing.T, analysis llm.AnalysisProvider) *gin.Engine {
	t.Helper()

	db, err := store.OpenSQLite("")
	require.NoError(t, err)
	knowledgeStore, err := store.NewKnowledgeStore(db)
	require.NoError(t, err)

	index := store.NewMemoryIndex()
	cache := llm.NewEmbeddingCache(stubEmbedder{}, 128)

	regenPool, err := pool.New("test-handler-regen", pool.BackgroundConfig())
	require.NoError(t, err)
	t.Cleanup(regenPool.Release)
	background, err := pool.New("test-handler-bg", pool.BackgroundConfig())
	require.NoError(t, err)
	t.Cleanup(background.Release)

	analyzerCfg := biz.DefaultAnalyzerConfig()
	analyzerCfg.Retry = &resilience.RetryConfig{MaxAttempts: 1, RetryableErrors: func(error) bool { return false }}

	analyzer := biz.NewAnalyzer(analysis, analyzerCfg)
	retriever := biz.NewKnowledgeRetriever(cache, index, nil)
	composer := biz.NewReplyComposer(analyzer, retriever, stubChat{}, analysis, nil)
	messageLog := biz.NewInMemoryMessageLog(0)
	summarizer := biz.NewSummarizer(analysis, messageLog, 50)
	learning := biz.NewLearningEngine(knowledgeStore, retriever, background, nil)

	knowledge := biz.NewKnowledgeService(knowledgeStore, index, cache, stubChat{})
	graph := biz.NewGraphBuilder(knowledgeStore, cache.ModelVersion, nil, nil)
	regen := biz.NewRegenerator(knowledgeStore, index, stubEmbedder{}, regenPool, nil)

	replyHandler := handler.NewReplyHandler(composer, analyzer, summarizer, learning, messageLog)
	knowledgeHandler := handler.NewKnowledgeHandler(knowledge, graph, regen)
	return router.New(gin.TestMode, replyHandler, knowledgeHandler)
}

func doJSON(t *testing.T, engine *gin.Engine, method, path string, body any) (*httptest.ResponseRecorder, *envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), "body: %s", rec.Body.String())
	return rec, &env
}

func TestKnowledgeCRUD(t *testing.T) {
	engine := newTestEngine(t)

	rec, env := doJSON(t, engine, http.MethodPost, "/v1/knowledge/items", map[string]any{
		"title":    "Shipping times",
		"content":  "Orders ship within two business days.",
		"category": "shipping",
		"language": "en",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 0, env.Code)

	var item struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &item))
	require.NotEmpty(t, item.ID)

	rec, env = doJSON(t, engine, http.MethodGet, "/v1/knowledge/items/"+item.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, env.Code)

	rec, env = doJSON(t, engine, http.MethodDelete, "/v1/knowledge/items/"+item.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doJSON(t, engine, http.MethodGet, "/v1/knowledge/items/"+item.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateItemValidation(t *testing.T) {
	engine := newTestEngine(t)

	rec, env := doJSON(t, engine, http.MethodPost, "/v1/knowledge/items", map[string]any{
		"title": "No content",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotZero(t, env.Code)
}

func TestSearchFindsCreatedItem(t *testing.T) {
	engine := newTestEngine(t)

	_, env := doJSON(t, engine, http.MethodPost, "/v1/knowledge/items", map[string]any{
		"title":    "Return policy",
		"content":  "Items can be returned within 30 days.",
		"category": "returns",
		"language": "en",
	})
	require.Equal(t, 0, env.Code)

	rec, env := doJSON(t, engine, http.MethodPost, "/v1/knowledge/search", map[string]any{
		"text": "Items can be returned within 30 days.",
		"k":    3,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var matches []struct {
		Title string  `json:"title"`
		Score float64 `json:"relevance"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &matches))
	require.NotEmpty(t, matches)
	assert.Equal(t, "Return policy", matches[0].Title)
}

func TestEnhancedReply(t *testing.T) {
	engine := newTestEngine(t)

	rec, env := doJSON(t, engine, http.MethodPost, "/v1/reply/enhanced", map[string]any{
		"query":       "Where is my order?",
		"customer_id": "cust-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 0, env.Code)

	var result struct {
		Reply    string `json:"reply"`
		Metadata struct {
			Language string `json:"language"`
		} `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.NotEmpty(t, result.Reply)
	assert.Equal(t, "en", result.Metadata.Language)

	// The reply request recorded the message, so a summary is available.
	rec, env = doJSON(t, engine, http.MethodGet, "/v1/conversations/cust-1/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, env.Code)
}

func TestEnhancedReplyDegradedSignalsPartialResult(t *testing.T) {
	engine := newTestEngineWith(t, brokenSentimentAnalysis{})

	rec, env := doJSON(t, engine, http.MethodPost, "/v1/reply/enhanced", map[string]any{
		"query":       "Where is my order?",
		"customer_id": "cust-1",
	})
	require.Equal(t, http.StatusPartialContent, rec.Code)
	require.Equal(t, errors.ErrPartialResult.Code, env.Code)

	// The reply is still delivered alongside the warning code.
	var result struct {
		Reply    string `json:"reply"`
		Metadata struct {
			DegradedSignals []string `json:"degraded_signals"`
		} `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.NotEmpty(t, result.Reply)
	assert.Contains(t, result.Metadata.DegradedSignals, "sentiment")
}

func TestEnhancedReplyRequiresQuery(t *testing.T) {
	engine := newTestEngine(t)

	rec, env := doJSON(t, engine, http.MethodPost, "/v1/reply/enhanced", map[string]any{
		"customer_id": "cust-1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotZero(t, env.Code)
}

func TestAdjustRequiresSignal(t *testing.T) {
	engine := newTestEngine(t)

	rec, env := doJSON(t, engine, http.MethodPost, "/v1/reply/adjust", map[string]any{
		"reply": "Your order is on the way.",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotZero(t, env.Code)
}

func TestTranslateRejectsUnsupportedLanguage(t *testing.T) {
	engine := newTestEngine(t)

	rec, env := doJSON(t, engine, http.MethodPost, "/v1/reply/translate", map[string]any{
		"reply":           "Hello",
		"target_language": "tlh",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotZero(t, env.Code)
}

func TestRegenJobNotFound(t *testing.T) {
	engine := newTestEngine(t)

	rec, env := doJSON(t, engine, http.MethodGet, "/v1/embeddings/jobs/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotZero(t, env.Code)
}

func TestRequestIDEchoedOnResponse(t *testing.T) {
	engine := newTestEngine(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}
