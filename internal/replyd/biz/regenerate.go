package biz

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kart-io/logger"

	"github.com/kart-io/reply-x/internal/model"
	"github.com/kart-io/reply-x/internal/replyd/store"
	"github.com/kart-io/reply-x/pkg/errors"
	"github.com/kart-io/reply-x/pkg/llm"
	"github.com/kart-io/reply-x/pkg/pool"
)

// RegeneratorConfig configures batch embedding regeneration.
type RegeneratorConfig struct {
	// ItemTimeout bounds the embed+persist work for one item.
	ItemTimeout time.Duration
	// JobTimeout bounds the whole regeneration pass.
	JobTimeout time.Duration
}

// DefaultRegeneratorConfig returns the default regeneration configuration.
func DefaultRegeneratorConfig() *RegeneratorConfig {
	return &RegeneratorConfig{
		ItemTimeout: 60 * time.Second,
		JobTimeout:  2 * time.Hour,
	}
}

type regenJob struct {
	job       model.RegenJob
	processed atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64

	mu         sync.Mutex
	status     model.RegenJobStatus
	finishedAt *time.Time
	errMsg     string
}

func (j *regenJob) snapshot() *model.RegenJob {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := j.job
	out.Status = j.status
	out.Processed = j.processed.Load()
	out.Skipped = j.skipped.Load()
	out.Failed = j.failed.Load()
	out.FinishedAt = j.finishedAt
	out.Error = j.errMsg
	return &out
}

func (j *regenJob) finish(status model.RegenJobStatus, errMsg string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := time.Now()
	j.status = status
	j.finishedAt = &now
	j.errMsg = errMsg
}

// Regenerator rebuilds every item's embedding under the provider's current
// model version. Work fans out item-at-a-time onto a bounded pool; an item
// whose stored record already matches its content hash and the target
// version is skipped, so an interrupted pass can simply be rerun.
type Regenerator struct {
	store    store.KnowledgeStore
	index    store.VectorIndex
	provider llm.EmbeddingProvider
	workers  *pool.Pool
	config   *RegeneratorConfig

	mu      sync.RWMutex
	jobs    map[string]*regenJob
	running bool
}

// NewRegenerator creates a regenerator.
func NewRegenerator(
	knowledgeStore store.KnowledgeStore,
	index store.VectorIndex,
	provider llm.EmbeddingProvider,
	workers *pool.Pool,
	config *RegeneratorConfig,
) *Regenerator {
	if config == nil {
		config = DefaultRegeneratorConfig()
	}
	return &Regenerator{
		store:    knowledgeStore,
		index:    index,
		provider: provider,
		workers:  workers,
		config:   config,
		jobs:     make(map[string]*regenJob),
	}
}

// BatchRegenerate starts an asynchronous regeneration pass and returns its
// job handle immediately. At most one pass runs at a time.
func (r *Regenerator) BatchRegenerate(ctx context.Context) (*model.RegenJob, error) {
	targetVersion := r.provider.ModelVersion()

	items, _, err := r.store.ListItems(ctx, nil)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, errors.ErrValidation.WithMessage("a regeneration job is already running")
	}
	r.running = true

	job := &regenJob{
		job: model.RegenJob{
			ID:            uuid.NewString(),
			TargetVersion: targetVersion,
			Total:         int64(len(items)),
			StartedAt:     time.Now(),
		},
		status: model.RegenJobRunning,
	}
	r.jobs[job.job.ID] = job
	r.mu.Unlock()

	logger.Infow("embedding regeneration started",
		"job_id", job.job.ID,
		"target_version", targetVersion,
		"items", len(items),
	)

	// The pass outlives the request that started it.
	go r.run(job, items, targetVersion)

	return job.snapshot(), nil
}

func (r *Regenerator) run(job *regenJob, items []*model.KnowledgeItem, targetVersion string) {
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), r.config.JobTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, item := range items {
		item := item
		wg.Add(1)
		err := r.workers.Submit(func() {
			defer wg.Done()
			r.regenerateItem(ctx, job, item, targetVersion)
		})
		if err != nil {
			wg.Done()
			job.failed.Add(1)
			logger.Warnw("regeneration task rejected by pool",
				"job_id", job.job.ID,
				"item_id", item.ID,
				"error", err.Error(),
			)
		}
	}
	wg.Wait()

	if ctx.Err() != nil {
		job.finish(model.RegenJobFailed, "job timeout exceeded")
		logger.Errorw("embedding regeneration timed out", "job_id", job.job.ID)
		return
	}

	// Old versions are purged only after the whole pass completes, so
	// search never sees a half-built version replace a complete one.
	if err := r.purgeOldVersions(ctx, targetVersion); err != nil {
		job.finish(model.RegenJobFailed, err.Error())
		logger.Errorw("failed to purge old embedding versions",
			"job_id", job.job.ID,
			"error", err.Error(),
		)
		return
	}

	job.finish(model.RegenJobCompleted, "")
	snap := job.snapshot()
	logger.Infow("embedding regeneration completed",
		"job_id", snap.ID,
		"processed", snap.Processed,
		"skipped", snap.Skipped,
		"failed", snap.Failed,
	)
}

func (r *Regenerator) regenerateItem(ctx context.Context, job *regenJob, item *model.KnowledgeItem, targetVersion string) {
	itemCtx, cancel := context.WithTimeout(ctx, r.config.ItemTimeout)
	defer cancel()

	contentHash := model.HashContent(item.Content)

	record, err := r.store.GetEmbedding(itemCtx, item.ID, targetVersion)
	if err != nil {
		job.failed.Add(1)
		logger.Warnw("failed to read embedding record", "item_id", item.ID, "error", err.Error())
		return
	}
	if record.Current(contentHash, targetVersion) {
		// The record is still valid, but the index may not hold the
		// vector, e.g. after a restart with the in-memory backend. The
		// upsert is idempotent, so reinserting a present vector is safe.
		if err := r.index.Upsert(itemCtx, targetVersion, indexEntryFor(item, record.Vector)); err != nil {
			job.failed.Add(1)
			logger.Warnw("failed to reindex current embedding", "item_id", item.ID, "error", err.Error())
			return
		}
		job.skipped.Add(1)
		return
	}

	vector, err := r.provider.EmbedSingle(itemCtx, item.Content)
	if err != nil {
		job.failed.Add(1)
		logger.Warnw("failed to embed item", "item_id", item.ID, "error", err.Error())
		return
	}

	if err := r.store.SaveEmbedding(itemCtx, &model.EmbeddingRecord{
		ItemID:       item.ID,
		ModelVersion: targetVersion,
		ContentHash:  contentHash,
		Dimension:    len(vector),
		Vector:       vector,
	}); err != nil {
		job.failed.Add(1)
		logger.Warnw("failed to save embedding record", "item_id", item.ID, "error", err.Error())
		return
	}

	if err := r.index.Upsert(itemCtx, targetVersion, indexEntryFor(item, vector)); err != nil {
		job.failed.Add(1)
		logger.Warnw("failed to index item vector", "item_id", item.ID, "error", err.Error())
		return
	}

	job.processed.Add(1)
}

func indexEntryFor(item *model.KnowledgeItem, vector []float32) *store.IndexEntry {
	return &store.IndexEntry{
		ItemID:    item.ID,
		Vector:    vector,
		Title:     item.Title,
		Content:   item.Content,
		Category:  item.Category,
		Tags:      item.Tags,
		Source:    item.SourceRef,
		Language:  item.Language,
		UpdatedAt: item.UpdatedAt,
	}
}

// RebuildIndex repopulates the vector index from persisted embedding
// records. The in-memory backend loses its contents on restart; without a
// rebuild, retrieval would stay empty until content or the model version
// changed. Records that no longer match their item's content are skipped.
func (r *Regenerator) RebuildIndex(ctx context.Context) (int, error) {
	version := r.provider.ModelVersion()

	items, _, err := r.store.ListItems(ctx, nil)
	if err != nil {
		return 0, err
	}

	loaded := 0
	for _, item := range items {
		record, err := r.store.GetEmbedding(ctx, item.ID, version)
		if err != nil {
			return loaded, err
		}
		if !record.Current(model.HashContent(item.Content), version) {
			continue
		}
		if err := r.index.Upsert(ctx, version, indexEntryFor(item, record.Vector)); err != nil {
			return loaded, err
		}
		loaded++
	}
	return loaded, nil
}

func (r *Regenerator) purgeOldVersions(ctx context.Context, targetVersion string) error {
	versions, err := r.store.ListEmbeddingVersions(ctx)
	if err != nil {
		return err
	}
	for _, version := range versions {
		if version == targetVersion {
			continue
		}
		if err := r.store.DeleteEmbeddingsForVersion(ctx, version); err != nil {
			return err
		}
		if err := r.index.DropVersion(ctx, version); err != nil {
			return err
		}
		logger.Infow("purged embedding version", "model_version", version)
	}
	return nil
}

// JobStatus returns the current state of a regeneration job.
func (r *Regenerator) JobStatus(jobID string) (*model.RegenJob, error) {
	r.mu.RLock()
	job, ok := r.jobs[jobID]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.ErrRegenJobNotFound.WithMessagef("regeneration job %q not found", jobID)
	}
	return job.snapshot(), nil
}

// Jobs lists all known regeneration jobs, newest first.
func (r *Regenerator) Jobs() []*model.RegenJob {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobs := make([]*model.RegenJob, 0, len(r.jobs))
	for _, job := range r.jobs {
		jobs = append(jobs, job.snapshot())
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].StartedAt.After(jobs[j].StartedAt) })
	return jobs
}
