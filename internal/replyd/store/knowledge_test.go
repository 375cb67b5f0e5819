package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/reply-x/internal/model"
	"github.com/kart-io/reply-x/pkg/errors"
)

func newTestStore(t *testing.T) *GormKnowledgeStore {
	t.Helper()
	db, err := OpenSQLite("")
	require.NoError(t, err)
	s, err := NewKnowledgeStore(db)
	require.NoError(t, err)
	return s
}

func TestKnowledgeStoreItemLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item := &model.KnowledgeItem{
		ID:          "item-1",
		Title:       "Refund policy",
		Content:     "Refunds are processed within 14 days.",
		Category:    "billing",
		Tags:        []string{"refund", "policy"},
		Language:    model.LanguageEnglish,
		ContentHash: model.HashContent("Refunds are processed within 14 days."),
	}
	require.NoError(t, s.CreateItem(ctx, item))

	got, err := s.GetItem(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, item.Title, got.Title)
	assert.Equal(t, []string{"refund", "policy"}, got.Tags)

	got.Content = "Refunds are processed within 30 days."
	got.ContentHash = model.HashContent(got.Content)
	require.NoError(t, s.UpdateItem(ctx, got))

	updated, err := s.GetItem(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, got.ContentHash, updated.ContentHash)

	require.NoError(t, s.DeleteItem(ctx, "item-1"))
	_, err = s.GetItem(ctx, "item-1")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrNotFound.Code))
}

func TestKnowledgeStoreListFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, item := range []*model.KnowledgeItem{
		{ID: "b1", Title: "t", Content: "c", Category: "billing", Language: model.LanguageEnglish},
		{ID: "b2", Title: "t", Content: "c", Category: "billing", Language: model.LanguageSpanish, NeedsReview: true},
		{ID: "s1", Title: "t", Content: "c", Category: "shipping", Language: model.LanguageEnglish},
	} {
		require.NoError(t, s.CreateItem(ctx, item))
	}

	items, total, err := s.ListItems(ctx, &ItemFilter{Category: "billing"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, items, 2)

	review := true
	items, total, err = s.ListItems(ctx, &ItemFilter{NeedsReview: &review})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, items, 1)
	assert.Equal(t, "b2", items[0].ID)

	counts, err := s.CountByCategory(ctx)
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, "billing", counts[0].Category)
	assert.Equal(t, int64(2), counts[0].Count)
}

func TestKnowledgeStoreEmbeddingRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	record, err := s.GetEmbedding(ctx, "item-1", "v1")
	require.NoError(t, err)
	assert.Nil(t, record)

	require.NoError(t, s.SaveEmbedding(ctx, &model.EmbeddingRecord{
		ItemID:       "item-1",
		ModelVersion: "v1",
		ContentHash:  "hash-a",
		Dimension:    3,
		Vector:       []float32{0.1, 0.2, 0.3},
	}))

	record, err = s.GetEmbedding(ctx, "item-1", "v1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.True(t, record.Current("hash-a", "v1"))
	assert.False(t, record.Current("hash-b", "v1"))
	assert.False(t, record.Current("hash-a", "v2"))

	// Saving again replaces the record instead of duplicating it.
	require.NoError(t, s.SaveEmbedding(ctx, &model.EmbeddingRecord{
		ItemID:       "item-1",
		ModelVersion: "v1",
		ContentHash:  "hash-b",
		Dimension:    3,
		Vector:       []float32{0.4, 0.5, 0.6},
	}))
	record, err = s.GetEmbedding(ctx, "item-1", "v1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "hash-b", record.ContentHash)

	require.NoError(t, s.SaveEmbedding(ctx, &model.EmbeddingRecord{
		ItemID: "item-1", ModelVersion: "v2", ContentHash: "hash-b", Dimension: 3,
	}))
	versions, err := s.ListEmbeddingVersions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"v1", "v2"}, versions)

	require.NoError(t, s.DeleteEmbeddingsForVersion(ctx, "v1"))
	record, err = s.GetEmbedding(ctx, "item-1", "v1")
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestKnowledgeStoreLearningSamples(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveLearningSample(ctx, &model.LearningSample{
		ID:            "sample-1",
		Query:         "where is my order",
		OriginalReply: "It ships soon.",
		HumanReply:    "Your order ships within 2 business days.",
		Points: []model.LearningPoint{
			{Kind: model.LearningPointReworded, Original: "It ships soon.", Revised: "Your order ships within 2 business days."},
		},
		Confidence: 0.4,
	}))

	samples, total, err := s.ListLearningSamples(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, samples, 1)
	require.Len(t, samples[0].Points, 1)
	assert.Equal(t, model.LearningPointReworded, samples[0].Points[0].Kind)
}
