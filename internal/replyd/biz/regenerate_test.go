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

// blockingEmbedder holds every EmbedSingle call until released.
type blockingEmbedder struct {
	*fakeEmbedder
	gate chan struct{}
}

func (b *blockingEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	select {
	case <-b.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return b.fakeEmbedder.EmbedSingle(ctx, text)
}

func newTestRegenerator(t *testing.T, provider llm.EmbeddingProvider) (*Regenerator, store.KnowledgeStore, *store.MemoryIndex) {
	t.Helper()
	ks := newTestKnowledgeStore(t)
	index := store.NewMemoryIndex()

	workers, err := pool.New("test-regen", pool.BackgroundConfig())
	require.NoError(t, err)
	t.Cleanup(workers.Release)

	return NewRegenerator(ks, index, provider, workers, nil), ks, index
}

func seedRegenItem(t *testing.T, ks store.KnowledgeStore, id string) {
	t.Helper()
	content := "content of " + id
	require.NoError(t, ks.CreateItem(context.Background(), &model.KnowledgeItem{
		ID:          id,
		Title:       id,
		Content:     content,
		ContentHash: model.HashContent(content),
	}))
}

func waitForJob(t *testing.T, regen *Regenerator, jobID string) *model.RegenJob {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		job, err := regen.JobStatus(jobID)
		require.NoError(t, err)
		if job.Status != model.RegenJobRunning {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("regeneration job never finished")
	return nil
}

func TestBatchRegenerateProcessesAndPurges(t *testing.T) {
	embedder := newFakeEmbedder("embed-v2")
	regen, ks, index := newTestRegenerator(t, embedder)
	ctx := context.Background()

	seedRegenItem(t, ks, "item-1")
	seedRegenItem(t, ks, "item-2")

	// Leftovers from a previous model version should disappear after the pass.
	require.NoError(t, ks.SaveEmbedding(ctx, &model.EmbeddingRecord{
		ItemID: "item-1", ModelVersion: "embed-v1",
		ContentHash: model.HashContent("content of item-1"),
		Dimension:   3, Vector: []float32{1, 0, 0},
	}))
	require.NoError(t, index.Upsert(ctx, "embed-v1", &store.IndexEntry{
		ItemID: "item-1", Vector: []float32{1, 0, 0},
	}))

	job, err := regen.BatchRegenerate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "embed-v2", job.TargetVersion)
	assert.Equal(t, int64(2), job.Total)

	done := waitForJob(t, regen, job.ID)
	assert.Equal(t, model.RegenJobCompleted, done.Status)
	assert.Equal(t, int64(2), done.Processed)
	assert.Equal(t, int64(0), done.Skipped)
	assert.Equal(t, int64(0), done.Failed)
	require.NotNil(t, done.FinishedAt)

	count, err := index.Count(ctx, "embed-v2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	versions, err := ks.ListEmbeddingVersions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"embed-v2"}, versions)

	indexVersions, err := index.Versions(ctx)
	require.NoError(t, err)
	assert.NotContains(t, indexVersions, "embed-v1")
}

func TestBatchRegenerateRerunSkipsCurrent(t *testing.T) {
	embedder := newFakeEmbedder("embed-v2")
	regen, ks, _ := newTestRegenerator(t, embedder)
	ctx := context.Background()

	seedRegenItem(t, ks, "item-1")
	seedRegenItem(t, ks, "item-2")

	first, err := regen.BatchRegenerate(ctx)
	require.NoError(t, err)
	waitForJob(t, regen, first.ID)

	second, err := regen.BatchRegenerate(ctx)
	require.NoError(t, err)
	done := waitForJob(t, regen, second.ID)

	assert.Equal(t, model.RegenJobCompleted, done.Status)
	assert.Equal(t, int64(0), done.Processed)
	assert.Equal(t, int64(2), done.Skipped)
}

func TestBatchRegenerateSkipRepopulatesIndex(t *testing.T) {
	embedder := newFakeEmbedder("embed-v2")
	regen, ks, _ := newTestRegenerator(t, embedder)
	ctx := context.Background()

	seedRegenItem(t, ks, "item-1")
	seedRegenItem(t, ks, "item-2")

	first, err := regen.BatchRegenerate(ctx)
	require.NoError(t, err)
	waitForJob(t, regen, first.ID)

	// A restart loses the in-memory index but keeps the records. The rerun
	// skips the embedding work yet must put the vectors back.
	freshIndex := store.NewMemoryIndex()
	workers, err := pool.New("test-regen-restart", pool.BackgroundConfig())
	require.NoError(t, err)
	t.Cleanup(workers.Release)
	restarted := NewRegenerator(ks, freshIndex, embedder, workers, nil)

	second, err := restarted.BatchRegenerate(ctx)
	require.NoError(t, err)
	done := waitForJob(t, restarted, second.ID)

	assert.Equal(t, model.RegenJobCompleted, done.Status)
	assert.Equal(t, int64(2), done.Skipped)
	assert.Equal(t, int64(0), done.Processed)

	count, err := freshIndex.Count(ctx, "embed-v2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestRebuildIndexFromRecords(t *testing.T) {
	embedder := newFakeEmbedder("embed-v2")
	regen, ks, _ := newTestRegenerator(t, embedder)
	ctx := context.Background()

	seedRegenItem(t, ks, "item-1")
	seedRegenItem(t, ks, "item-2")

	job, err := regen.BatchRegenerate(ctx)
	require.NoError(t, err)
	waitForJob(t, regen, job.ID)

	// Edit one item after the pass; its record is stale and must not be
	// loaded into a rebuilt index.
	item, err := ks.GetItem(ctx, "item-2")
	require.NoError(t, err)
	item.Content = "rewritten content"
	item.ContentHash = model.HashContent(item.Content)
	require.NoError(t, ks.UpdateItem(ctx, item))

	freshIndex := store.NewMemoryIndex()
	workers, err := pool.New("test-rebuild", pool.BackgroundConfig())
	require.NoError(t, err)
	t.Cleanup(workers.Release)
	restarted := NewRegenerator(ks, freshIndex, embedder, workers, nil)

	loaded, err := restarted.RebuildIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)

	count, err := freshIndex.Count(ctx, "embed-v2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestBatchRegenerateSingleRunGuard(t *testing.T) {
	embedder := &blockingEmbedder{
		fakeEmbedder: newFakeEmbedder("embed-v2"),
		gate:         make(chan struct{}),
	}
	regen, ks, _ := newTestRegenerator(t, embedder)
	ctx := context.Background()

	seedRegenItem(t, ks, "item-1")

	first, err := regen.BatchRegenerate(ctx)
	require.NoError(t, err)

	_, err = regen.BatchRegenerate(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrValidation.Code))

	close(embedder.gate)
	waitForJob(t, regen, first.ID)

	// Once the pass finishes a new one may start.
	third, err := regen.BatchRegenerate(ctx)
	require.NoError(t, err)
	waitForJob(t, regen, third.ID)
}

func TestJobStatusUnknownJob(t *testing.T) {
	regen, _, _ := newTestRegenerator(t, newFakeEmbedder("embed-v2"))

	_, err := regen.JobStatus("nope")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrRegenJobNotFound.Code))
}

func TestJobsNewestFirst(t *testing.T) {
	embedder := newFakeEmbedder("embed-v2")
	regen, ks, _ := newTestRegenerator(t, embedder)
	ctx := context.Background()

	seedRegenItem(t, ks, "item-1")

	first, err := regen.BatchRegenerate(ctx)
	require.NoError(t, err)
	waitForJob(t, regen, first.ID)

	time.Sleep(5 * time.Millisecond)

	second, err := regen.BatchRegenerate(ctx)
	require.NoError(t, err)
	waitForJob(t, regen, second.ID)

	jobs := regen.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, second.ID, jobs[0].ID)
	assert.Equal(t, first.ID, jobs[1].ID)
}
