package biz

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/reply-x/internal/model"
	"github.com/kart-io/reply-x/internal/replyd/store"
	"github.com/kart-io/reply-x/pkg/errors"
	"github.com/kart-io/reply-x/pkg/llm"
	"github.com/kart-io/reply-x/pkg/pool"
)

func newTestKnowledgeStore(t *testing.T) store.KnowledgeStore {
	t.Helper()
	db, err := store.OpenSQLite("")
	require.NoError(t, err)
	s, err := store.NewKnowledgeStore(db)
	require.NoError(t, err)
	return s
}

func newTestLearningEngine(t *testing.T) (*LearningEngine, store.KnowledgeStore) {
	t.Helper()
	ks := newTestKnowledgeStore(t)
	return NewLearningEngine(ks, nil, nil, nil), ks
}

func TestLearnIdenticalRepliesYieldNothing(t *testing.T) {
	engine, _ := newTestLearningEngine(t)

	tests := []struct {
		name     string
		original string
		human    string
	}{
		{"byte identical", "Your refund is on its way.", "Your refund is on its way."},
		{"case and punctuation only", "Your refund is on its way.", "your refund is on its WAY!"},
		{"whitespace only", "Your refund  is on its way.", "Your refund is\non its way."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sample, err := engine.Learn(context.Background(), "refund?", tt.original, tt.human)
			require.NoError(t, err)
			assert.Empty(t, sample.Points)
			assert.Equal(t, 0.0, sample.Confidence)
		})
	}
}

func TestLearnClassifiesChanges(t *testing.T) {
	engine, _ := newTestLearningEngine(t)

	original := "Your order shipped. It will arrive soon. Contact us anytime."
	human := "Your order shipped. It will arrive soon, within 2 days. Thanks for your patience."

	sample, err := engine.Learn(context.Background(), "where is my order", original, human)
	require.NoError(t, err)
	require.NotEmpty(t, sample.Points)

	kinds := make(map[model.LearningPointKind]int)
	for _, p := range sample.Points {
		kinds[p.Kind]++
	}

	// "It will arrive soon" → "It will arrive soon, within 2 days" shares
	// most tokens, so it pairs up as a rewording.
	assert.Equal(t, 1, kinds[model.LearningPointReworded])
	assert.Equal(t, 1, kinds[model.LearningPointRemoved])
	assert.Equal(t, 1, kinds[model.LearningPointAdded])
	assert.Greater(t, sample.Confidence, 0.0)
}

func TestLearnPersistsSample(t *testing.T) {
	engine, ks := newTestLearningEngine(t)

	sample, err := engine.Learn(context.Background(), "q", "Old answer here.", "New answer entirely different.")
	require.NoError(t, err)
	require.NotEmpty(t, sample.ID)

	samples, total, err := ks.ListLearningSamples(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, samples, 1)
	assert.Equal(t, sample.ID, samples[0].ID)
}

func TestLearnValidation(t *testing.T) {
	engine, _ := newTestLearningEngine(t)

	_, err := engine.Learn(context.Background(), "q", "", "human")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrValidation.Code))
}

func TestLearnProposesStaleSource(t *testing.T) {
	ks := newTestKnowledgeStore(t)
	ctx := context.Background()

	// Seed an item whose content the human edit contradicts.
	require.NoError(t, ks.CreateItem(ctx, &model.KnowledgeItem{
		ID:      "stale-item",
		Title:   "Shipping times",
		Content: "Orders arrive in 5 days.",
	}))

	embedder := newFakeEmbedder("embed-v1")
	embedder.set("Orders arrive in 5 days.", []float32{1, 0, 0})
	cache := llm.NewEmbeddingCache(embedder, 64)
	index := store.NewMemoryIndex()
	require.NoError(t, index.Upsert(ctx, "embed-v1", &store.IndexEntry{
		ItemID: "stale-item", Vector: []float32{1, 0, 0}, Content: "Orders arrive in 5 days.",
	}))
	retriever := NewKnowledgeRetriever(cache, index, nil)

	background, err := pool.New("test-background", pool.BackgroundConfig())
	require.NoError(t, err)
	defer background.Release()

	engine := NewLearningEngine(ks, retriever, background, nil)

	_, err = engine.Learn(ctx, "shipping?", "Orders arrive in 5 days.", "Orders arrive in 2 days.")
	require.NoError(t, err)

	// The proposal runs on the background pool; poll for the flag.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		item, err := ks.GetItem(ctx, "stale-item")
		require.NoError(t, err)
		if item.NeedsReview {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("stale source was never flagged for review")
}

func TestSegmentAndNormalize(t *testing.T) {
	segments := segmentReply("First one. Second one!\nThird one")
	assert.Equal(t, []string{"First one.", "Second one!", "Third one"}, segments)

	assert.Equal(t, "hello world", normalizeSegment("  Hello,   WORLD!  "))
	assert.Equal(t, "", normalizeSegment("?!...,"))
}

func TestTokenJaccard(t *testing.T) {
	assert.Equal(t, 1.0, tokenJaccard("a b c", "a b c"))
	assert.Equal(t, 0.0, tokenJaccard("a b", "c d"))
	assert.InDelta(t, 0.5, tokenJaccard("a b c", "a b d"), 1e-9)
	assert.Equal(t, 0.0, tokenJaccard("", "a"))
}
