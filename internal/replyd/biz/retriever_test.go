package biz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/reply-x/internal/replyd/store"
	"github.com/kart-io/reply-x/pkg/errors"
	"github.com/kart-io/reply-x/pkg/llm"
)

func newTestRetriever(t *testing.T) (*KnowledgeRetriever, *fakeEmbedder, *store.MemoryIndex) {
	t.Helper()
	embedder := newFakeEmbedder("embed-v1")
	cache := llm.NewEmbeddingCache(embedder, 64)
	index := store.NewMemoryIndex()
	return NewKnowledgeRetriever(cache, index, nil), embedder, index
}

func TestRetrieveRankedAndFiltered(t *testing.T) {
	retriever, embedder, index := newTestRetriever(t)
	ctx := context.Background()

	embedder.set("refund question", []float32{1, 0, 0})

	require.NoError(t, index.Upsert(ctx, "embed-v1", &store.IndexEntry{
		ItemID: "close", Vector: []float32{1, 0.1, 0}, Title: "Refund policy", Content: "refunds",
	}))
	require.NoError(t, index.Upsert(ctx, "embed-v1", &store.IndexEntry{
		ItemID: "far", Vector: []float32{0, 1, 0}, Title: "Shipping", Content: "shipping",
	}))

	matches, err := retriever.Retrieve(ctx, "refund question", nil, 0.8, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1, "orthogonal match scores 0.5 and falls below the floor")
	assert.Equal(t, "close", matches[0].ItemID)
	assert.Equal(t, 1, matches[0].Rank)
	assert.Greater(t, matches[0].Score, 0.8)
}

func TestRetrieveEmptyIndexReturnsZeroSources(t *testing.T) {
	retriever, _, _ := newTestRetriever(t)

	matches, err := retriever.Retrieve(context.Background(), "anything", nil, 0, 5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestRetrieveNoSurvivorsReturnsEmptySlice(t *testing.T) {
	retriever, embedder, index := newTestRetriever(t)
	ctx := context.Background()

	embedder.set("query", []float32{1, 0, 0})
	require.NoError(t, index.Upsert(ctx, "embed-v1", &store.IndexEntry{
		ItemID: "opposite", Vector: []float32{-1, 0, 0},
	}))

	matches, err := retriever.Retrieve(ctx, "query", nil, 0.9, 5)
	require.NoError(t, err)
	assert.NotNil(t, matches)
	assert.Empty(t, matches)
}

func TestRetrieveValidatesQuery(t *testing.T) {
	retriever, _, _ := newTestRetriever(t)

	_, err := retriever.Retrieve(context.Background(), "", nil, 0, 5)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrValidation.Code))
}

func TestRetrieveRanksAreSequential(t *testing.T) {
	retriever, embedder, index := newTestRetriever(t)
	ctx := context.Background()

	embedder.set("q", []float32{1, 0, 0})
	require.NoError(t, index.Upsert(ctx, "embed-v1", &store.IndexEntry{ItemID: "a", Vector: []float32{1, 0, 0}}))
	require.NoError(t, index.Upsert(ctx, "embed-v1", &store.IndexEntry{ItemID: "b", Vector: []float32{1, 0.2, 0}}))
	require.NoError(t, index.Upsert(ctx, "embed-v1", &store.IndexEntry{ItemID: "c", Vector: []float32{1, 0.5, 0}}))

	matches, err := retriever.Retrieve(ctx, "q", nil, 0, 3)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	for i, match := range matches {
		assert.Equal(t, i+1, match.Rank)
		if i > 0 {
			assert.LessOrEqual(t, match.Score, matches[i-1].Score)
		}
	}
}
