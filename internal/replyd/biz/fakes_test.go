package biz

import (
	"context"
	"errors"
	"hash/fnv"

	"github.com/kart-io/reply-x/pkg/llm"
	"github.com/kart-io/reply-x/pkg/llm/resilience"
)

// fakeAnalysis implements llm.AnalysisProvider with overridable behavior.
type fakeAnalysis struct {
	detectFn    func(ctx context.Context, text string) (*llm.Detection, error)
	sentimentFn func(ctx context.Context, text, language string) (*llm.SentimentResult, error)
	intentFn    func(ctx context.Context, text, language string) (*llm.IntentResult, error)
	translateFn func(ctx context.Context, text, target, source string) (string, error)
	summarizeFn func(ctx context.Context, messages []string) (*llm.SummaryResult, error)
}

func (f *fakeAnalysis) DetectLanguage(ctx context.Context, text string) (*llm.Detection, error) {
	if f.detectFn != nil {
		return f.detectFn(ctx, text)
	}
	return &llm.Detection{Language: "en", Confidence: 0.97}, nil
}

func (f *fakeAnalysis) AnalyzeSentiment(ctx context.Context, text, language string) (*llm.SentimentResult, error) {
	if f.sentimentFn != nil {
		return f.sentimentFn(ctx, text, language)
	}
	return &llm.SentimentResult{Sentiment: "neutral", Score: 0.8}, nil
}

func (f *fakeAnalysis) RecognizeIntent(ctx context.Context, text, language string) (*llm.IntentResult, error) {
	if f.intentFn != nil {
		return f.intentFn(ctx, text, language)
	}
	return &llm.IntentResult{Intent: "question", Confidence: 0.9}, nil
}

func (f *fakeAnalysis) Translate(ctx context.Context, text, target, source string) (string, error) {
	if f.translateFn != nil {
		return f.translateFn(ctx, text, target, source)
	}
	return "[" + target + "] " + text, nil
}

func (f *fakeAnalysis) Summarize(ctx context.Context, messages []string) (*llm.SummaryResult, error) {
	if f.summarizeFn != nil {
		return f.summarizeFn(ctx, messages)
	}
	return &llm.SummaryResult{Summary: "summary"}, nil
}

var _ llm.AnalysisProvider = (*fakeAnalysis)(nil)

// fakeChat implements llm.ChatProvider.
type fakeChat struct {
	generateFn func(ctx context.Context, prompt, system string) (string, error)
}

func (f *fakeChat) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	if len(messages) == 0 {
		return "", errors.New("no messages")
	}
	return f.Generate(ctx, messages[len(messages)-1].Content, "")
}

func (f *fakeChat) Generate(ctx context.Context, prompt, system string) (string, error) {
	if f.generateFn != nil {
		return f.generateFn(ctx, prompt, system)
	}
	return "generated reply", nil
}

func (f *fakeChat) Name() string { return "fake-chat" }

var _ llm.ChatProvider = (*fakeChat)(nil)

// fakeEmbedder implements llm.EmbeddingProvider with a fixed vector table.
// Unknown texts hash onto a deterministic unit-ish vector so any text can
// be embedded.
type fakeEmbedder struct {
	version string
	vectors map[string][]float32
	err     error
}

func newFakeEmbedder(version string) *fakeEmbedder {
	return &fakeEmbedder{
		version: version,
		vectors: make(map[string][]float32),
	}
}

func (f *fakeEmbedder) set(text string, vec []float32) {
	f.vectors[text] = vec
}

func (f *fakeEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if vec, ok := f.vectors[text]; ok {
		out := make([]float32, len(vec))
		copy(out, vec)
		return out, nil
	}
	h := fnv.New32a()
	h.Write([]byte(text))
	sum := h.Sum32()
	return []float32{
		float32(sum%101) + 1,
		float32((sum/101)%103) + 1,
		float32((sum/10403)%107) + 1,
	}, nil
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := f.EmbedSingle(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEmbedder) ModelVersion() string { return f.version }
func (f *fakeEmbedder) Name() string         { return "fake-embedder" }

var _ llm.EmbeddingProvider = (*fakeEmbedder)(nil)

// noRetry keeps analyzer tests fast and deterministic.
func noRetry() *resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = 1
	return cfg
}

func testAnalyzerConfig() *AnalyzerConfig {
	cfg := DefaultAnalyzerConfig()
	cfg.Retry = noRetry()
	return cfg
}
