package biz

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kart-io/logger"

	"github.com/kart-io/reply-x/internal/model"
	"github.com/kart-io/reply-x/internal/replyd/store"
	"github.com/kart-io/reply-x/pkg/errors"
	"github.com/kart-io/reply-x/pkg/llm"
)

// KnowledgeService manages knowledge items and their embeddings: CRUD with
// embed-on-write, similarity search over the base, statistics and
// model-assisted organization.
type KnowledgeService struct {
	store store.KnowledgeStore
	index store.VectorIndex
	cache *llm.EmbeddingCache
	chat  llm.ChatProvider
}

// NewKnowledgeService creates a knowledge service.
func NewKnowledgeService(knowledgeStore store.KnowledgeStore, index store.VectorIndex, cache *llm.EmbeddingCache, chat llm.ChatProvider) *KnowledgeService {
	return &KnowledgeService{
		store: knowledgeStore,
		index: index,
		cache: cache,
		chat:  chat,
	}
}

// CreateItem stores a new knowledge item and indexes its embedding.
func (s *KnowledgeService) CreateItem(ctx context.Context, item *model.KnowledgeItem) (*model.KnowledgeItem, error) {
	if strings.TrimSpace(item.Title) == "" || strings.TrimSpace(item.Content) == "" {
		return nil, errors.ErrValidation.WithMessage("title and content are required")
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	item.Language = model.ParseLanguage(item.Language.String())
	item.ContentHash = model.HashContent(item.Content)
	item.ModelVersion = s.cache.ModelVersion()

	if err := s.store.CreateItem(ctx, item); err != nil {
		return nil, err
	}

	if err := s.embedAndIndex(ctx, item); err != nil {
		// The item is stored; the embedding can be rebuilt by the next
		// regeneration pass.
		logger.Warnw("item stored but embedding failed",
			"item_id", item.ID,
			"error", err.Error(),
		)
	}
	return item, nil
}

// UpdateItem updates an item; a content change invalidates the stored
// embedding, so it is regenerated inline.
func (s *KnowledgeService) UpdateItem(ctx context.Context, item *model.KnowledgeItem) (*model.KnowledgeItem, error) {
	if item.ID == "" {
		return nil, errors.ErrValidation.WithMessage("item id is required")
	}
	item.Language = model.ParseLanguage(item.Language.String())
	item.ContentHash = model.HashContent(item.Content)
	item.ModelVersion = s.cache.ModelVersion()

	if err := s.store.UpdateItem(ctx, item); err != nil {
		return nil, err
	}

	if err := s.embedAndIndex(ctx, item); err != nil {
		logger.Warnw("item updated but embedding failed",
			"item_id", item.ID,
			"error", err.Error(),
		)
	}
	return item, nil
}

// DeleteItem removes an item, its embedding records and its index entry.
func (s *KnowledgeService) DeleteItem(ctx context.Context, id string) error {
	if err := s.store.DeleteItem(ctx, id); err != nil {
		return err
	}
	if err := s.index.Delete(ctx, s.cache.ModelVersion(), id); err != nil {
		logger.Warnw("failed to remove item from index", "item_id", id, "error", err.Error())
	}
	return nil
}

// GetItem fetches one item.
func (s *KnowledgeService) GetItem(ctx context.Context, id string) (*model.KnowledgeItem, error) {
	return s.store.GetItem(ctx, id)
}

// ListItems returns a filtered page of items plus the total match count.
func (s *KnowledgeService) ListItems(ctx context.Context, filter *store.ItemFilter) ([]*model.KnowledgeItem, int64, error) {
	return s.store.ListItems(ctx, filter)
}

func (s *KnowledgeService) embedAndIndex(ctx context.Context, item *model.KnowledgeItem) error {
	vector, err := s.cache.GetOrCompute(ctx, item.Content)
	if err != nil {
		return err
	}

	version := s.cache.ModelVersion()
	if err := s.store.SaveEmbedding(ctx, &model.EmbeddingRecord{
		ItemID:       item.ID,
		ModelVersion: version,
		ContentHash:  item.ContentHash,
		Dimension:    len(vector),
		Vector:       vector,
	}); err != nil {
		return err
	}

	return s.index.Upsert(ctx, version, &store.IndexEntry{
		ItemID:    item.ID,
		Vector:    vector,
		Title:     item.Title,
		Content:   item.Content,
		Category:  item.Category,
		Tags:      item.Tags,
		Source:    item.SourceRef,
		Language:  item.Language,
		UpdatedAt: time.Now(),
	})
}

// GenerateEmbeddingForItem recomputes and reindexes one item's embedding.
func (s *KnowledgeService) GenerateEmbeddingForItem(ctx context.Context, id string) (*model.EmbeddingRecord, error) {
	item, err := s.store.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	item.ContentHash = model.HashContent(item.Content)

	if err := s.embedAndIndex(ctx, item); err != nil {
		return nil, err
	}
	return s.store.GetEmbedding(ctx, id, s.cache.ModelVersion())
}

// GenerateEmbeddingForText embeds arbitrary text without persisting it.
func (s *KnowledgeService) GenerateEmbeddingForText(ctx context.Context, text string) ([]float32, string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, "", errors.ErrValidation.WithMessage("text is required")
	}
	vector, err := s.cache.GetOrCompute(ctx, text)
	if err != nil {
		return nil, "", errors.ErrUpstreamAnalysis.WithCause(err)
	}
	return vector, s.cache.ModelVersion(), nil
}

// SearchSimilarItems finds items similar to the given text.
func (s *KnowledgeService) SearchSimilarItems(ctx context.Context, text string, filter *store.SearchFilter, k int) ([]model.RetrievalMatch, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.ErrValidation.WithMessage("text is required")
	}
	if k <= 0 {
		k = 5
	}

	vector, err := s.cache.GetOrCompute(ctx, text)
	if err != nil {
		return nil, errors.ErrUpstreamAnalysis.WithCause(err)
	}

	results, err := s.index.Search(ctx, s.cache.ModelVersion(), vector, k, filter)
	if err != nil {
		return nil, err
	}

	matches := make([]model.RetrievalMatch, 0, len(results))
	for i, res := range results {
		matches = append(matches, model.RetrievalMatch{
			ItemID:  res.ItemID,
			Title:   res.Title,
			Content: res.Content,
			Score:   res.Score,
			Rank:    i + 1,
		})
	}
	return matches, nil
}

// KnowledgeStats summarizes the state of the knowledge base.
type KnowledgeStats struct {
	TotalItems        int64                   `json:"total_items"`
	IndexedVectors    int64                   `json:"indexed_vectors"`
	ModelVersion      string                  `json:"model_version"`
	EmbeddingVersions []string                `json:"embedding_versions"`
	Categories        []store.CategoryCount   `json:"categories"`
	Cache             llm.EmbeddingCacheStats `json:"cache"`
}

// Stats reports knowledge base statistics.
func (s *KnowledgeService) Stats(ctx context.Context) (*KnowledgeStats, error) {
	total, err := s.store.CountItems(ctx)
	if err != nil {
		return nil, err
	}
	categories, err := s.store.CountByCategory(ctx)
	if err != nil {
		return nil, err
	}
	versions, err := s.store.ListEmbeddingVersions(ctx)
	if err != nil {
		return nil, err
	}
	indexed, err := s.index.Count(ctx, s.cache.ModelVersion())
	if err != nil {
		return nil, err
	}

	return &KnowledgeStats{
		TotalItems:        total,
		IndexedVectors:    indexed,
		ModelVersion:      s.cache.ModelVersion(),
		EmbeddingVersions: versions,
		Categories:        categories,
		Cache:             s.cache.Stats(),
	}, nil
}

// OrganizeItem asks the chat model to suggest a category and tags for one
// item, using the existing categories as the vocabulary.
func (s *KnowledgeService) OrganizeItem(ctx context.Context, id string) (*model.OrganizationResult, error) {
	item, err := s.store.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}

	categories, err := s.store.CountByCategory(ctx)
	if err != nil {
		return nil, err
	}
	known := make([]string, 0, len(categories))
	for _, c := range categories {
		if c.Category != "" {
			known = append(known, c.Category)
		}
	}

	return s.suggestOrganization(ctx, item, known)
}

// OrganizeBatch suggests organization for up to limit uncategorized or
// review-flagged items. Individual failures are skipped, not fatal.
func (s *KnowledgeService) OrganizeBatch(ctx context.Context, limit int) ([]*model.OrganizationResult, error) {
	if limit <= 0 {
		limit = 20
	}

	items, _, err := s.store.ListItems(ctx, nil)
	if err != nil {
		return nil, err
	}

	categories, err := s.store.CountByCategory(ctx)
	if err != nil {
		return nil, err
	}
	known := make([]string, 0, len(categories))
	for _, c := range categories {
		if c.Category != "" {
			known = append(known, c.Category)
		}
	}

	results := make([]*model.OrganizationResult, 0, limit)
	for _, item := range items {
		if len(results) >= limit {
			break
		}
		if item.Category != "" && !item.NeedsReview {
			continue
		}
		result, err := s.suggestOrganization(ctx, item, known)
		if err != nil {
			logger.Warnw("organization suggestion failed", "item_id", item.ID, "error", err.Error())
			continue
		}
		results = append(results, result)
	}
	return results, nil
}

// ApplyOrganization applies previously suggested reclassifications.
func (s *KnowledgeService) ApplyOrganization(ctx context.Context, results []*model.OrganizationResult) (int, error) {
	applied := 0
	for _, result := range results {
		item, err := s.store.GetItem(ctx, result.ItemID)
		if err != nil {
			logger.Warnw("skipping organization for missing item", "item_id", result.ItemID)
			continue
		}
		if result.SuggestedCategory != "" {
			item.Category = result.SuggestedCategory
		}
		if len(result.SuggestedTags) > 0 {
			item.Tags = result.SuggestedTags
		}
		item.NeedsReview = false
		if err := s.store.UpdateItem(ctx, item); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

func (s *KnowledgeService) suggestOrganization(ctx context.Context, item *model.KnowledgeItem, knownCategories []string) (*model.OrganizationResult, error) {
	prompt := fmt.Sprintf(
		`Classify the following knowledge base article. Prefer one of the existing categories: %s. Suggest a new category only if none fits.
Return {"category": "<category>", "tags": ["<tag>", ...], "reason": "<one sentence>"}.

Title: %s

Content:
%s`, strings.Join(knownCategories, ", "), item.Title, item.Content)

	raw, err := s.chat.Generate(ctx, prompt, organizeSystemPrompt)
	if err != nil {
		return nil, errors.ErrUpstreamAnalysis.WithCause(err)
	}

	var suggestion struct {
		Category string   `json:"category"`
		Tags     []string `json:"tags"`
		Reason   string   `json:"reason"`
	}
	if err := llm.DecodeJSON(raw, &suggestion); err != nil {
		return nil, errors.ErrUpstreamAnalysis.WithCause(err)
	}

	return &model.OrganizationResult{
		ItemID:            item.ID,
		SuggestedCategory: suggestion.Category,
		SuggestedTags:     suggestion.Tags,
		Reason:            suggestion.Reason,
	}, nil
}

const organizeSystemPrompt = "You are a knowledge base curator. Respond with a single JSON object and nothing else."
