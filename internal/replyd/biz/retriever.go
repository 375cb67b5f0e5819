package biz

import (
	"context"

	"github.com/kart-io/logger"

	"github.com/kart-io/reply-x/internal/model"
	"github.com/kart-io/reply-x/internal/replyd/store"
	"github.com/kart-io/reply-x/pkg/errors"
	"github.com/kart-io/reply-x/pkg/llm"
)

// RetrieverConfig configures knowledge retrieval.
type RetrieverConfig struct {
	// TopK is the default number of results when the caller passes k <= 0.
	TopK int
	// MinScore is the default relevance floor when the caller passes a
	// negative minScore.
	MinScore float64
}

// DefaultRetrieverConfig returns the default retrieval configuration.
func DefaultRetrieverConfig() *RetrieverConfig {
	return &RetrieverConfig{
		TopK:     5,
		MinScore: 0.55,
	}
}

// KnowledgeRetriever embeds a query and searches the vector index. An empty
// or unpopulated index is an ordinary zero-sources outcome for callers, not
// a failure.
type KnowledgeRetriever struct {
	cache  *llm.EmbeddingCache
	index  store.VectorIndex
	config *RetrieverConfig
}

// NewKnowledgeRetriever creates a retriever over the given cache and index.
func NewKnowledgeRetriever(cache *llm.EmbeddingCache, index store.VectorIndex, config *RetrieverConfig) *KnowledgeRetriever {
	if config == nil {
		config = DefaultRetrieverConfig()
	}
	return &KnowledgeRetriever{
		cache:  cache,
		index:  index,
		config: config,
	}
}

// ModelVersion returns the embedding model version retrieval runs under.
func (r *KnowledgeRetriever) ModelVersion() string {
	return r.cache.ModelVersion()
}

// Retrieve returns up to k matches for query scoring at least minScore,
// ranked by descending relevance. Zero survivors yield an empty slice and a
// nil error. A negative minScore or k <= 0 selects the configured defaults.
func (r *KnowledgeRetriever) Retrieve(ctx context.Context, query string, filter *store.SearchFilter, minScore float64, k int) ([]model.RetrievalMatch, error) {
	if query == "" {
		return nil, errors.ErrValidation.WithMessage("query is required")
	}
	if k <= 0 {
		k = r.config.TopK
	}
	if minScore < 0 {
		minScore = r.config.MinScore
	}

	vector, err := r.cache.GetOrCompute(ctx, query)
	if err != nil {
		return nil, errors.ErrUpstreamAnalysis.WithCause(err)
	}

	results, err := r.index.Search(ctx, r.cache.ModelVersion(), vector, k, filter)
	if err != nil {
		if errors.IsCode(err, errors.ErrIndexEmpty.Code) {
			logger.Debugw("vector index empty, returning zero sources",
				"model_version", r.cache.ModelVersion(),
			)
			return []model.RetrievalMatch{}, nil
		}
		return nil, err
	}

	matches := make([]model.RetrievalMatch, 0, len(results))
	for _, res := range results {
		if res.Score < minScore {
			continue
		}
		matches = append(matches, model.RetrievalMatch{
			ItemID:  res.ItemID,
			Title:   res.Title,
			Content: res.Content,
			Score:   res.Score,
			Rank:    len(matches) + 1,
		})
	}
	return matches, nil
}
