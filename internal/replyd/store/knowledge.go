package store

import (
	"context"
	stderrors "errors"

	"gorm.io/gorm"

	"github.com/kart-io/reply-x/internal/model"
	"github.com/kart-io/reply-x/pkg/errors"
)

// ItemFilter narrows ListItems. Zero-valued fields do not filter.
type ItemFilter struct {
	Category    string
	Language    model.Language
	NeedsReview *bool
	Page        int
	PageSize    int
}

// CategoryCount is one row of the per-category breakdown.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int64  `json:"count"`
}

// KnowledgeStore is the relational store for knowledge items, their
// embedding records and learning samples.
type KnowledgeStore interface {
	CreateItem(ctx context.Context, item *model.KnowledgeItem) error
	UpdateItem(ctx context.Context, item *model.KnowledgeItem) error
	DeleteItem(ctx context.Context, id string) error
	GetItem(ctx context.Context, id string) (*model.KnowledgeItem, error)
	ListItems(ctx context.Context, filter *ItemFilter) ([]*model.KnowledgeItem, int64, error)
	CountItems(ctx context.Context) (int64, error)
	CountByCategory(ctx context.Context) ([]CategoryCount, error)
	MarkNeedsReview(ctx context.Context, id string, needsReview bool) error

	SaveEmbedding(ctx context.Context, record *model.EmbeddingRecord) error
	GetEmbedding(ctx context.Context, itemID, modelVersion string) (*model.EmbeddingRecord, error)
	DeleteEmbeddingsForVersion(ctx context.Context, modelVersion string) error
	ListEmbeddingVersions(ctx context.Context) ([]string, error)

	SaveLearningSample(ctx context.Context, sample *model.LearningSample) error
	ListLearningSamples(ctx context.Context, page, pageSize int) ([]*model.LearningSample, int64, error)
}

// GormKnowledgeStore implements KnowledgeStore on a gorm DB.
type GormKnowledgeStore struct {
	db *gorm.DB
}

// NewKnowledgeStore creates a gorm-backed knowledge store and migrates its
// tables.
func NewKnowledgeStore(db *gorm.DB) (*GormKnowledgeStore, error) {
	if err := db.AutoMigrate(
		&model.KnowledgeItem{},
		&model.EmbeddingRecord{},
		&model.LearningSample{},
	); err != nil {
		return nil, errors.ErrDatabase.WithCause(err)
	}
	return &GormKnowledgeStore{db: db}, nil
}

// CreateItem inserts a new knowledge item.
func (s *GormKnowledgeStore) CreateItem(ctx context.Context, item *model.KnowledgeItem) error {
	if err := s.db.WithContext(ctx).Create(item).Error; err != nil {
		return errors.ErrDatabase.WithCause(err)
	}
	return nil
}

// UpdateItem saves all fields of an existing item.
func (s *GormKnowledgeStore) UpdateItem(ctx context.Context, item *model.KnowledgeItem) error {
	result := s.db.WithContext(ctx).
		Model(&model.KnowledgeItem{}).
		Where("id = ?", item.ID).
		Select("*").
		Omit("id", "created_at").
		Updates(item)
	if result.Error != nil {
		return errors.ErrDatabase.WithCause(result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.ErrNotFound.WithMessagef("knowledge item %q not found", item.ID)
	}
	return nil
}

// DeleteItem removes an item and its embedding records.
func (s *GormKnowledgeStore) DeleteItem(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&model.KnowledgeItem{}, "id = ?", id)
		if result.Error != nil {
			return errors.ErrDatabase.WithCause(result.Error)
		}
		if result.RowsAffected == 0 {
			return errors.ErrNotFound.WithMessagef("knowledge item %q not found", id)
		}
		if err := tx.Delete(&model.EmbeddingRecord{}, "item_id = ?", id).Error; err != nil {
			return errors.ErrDatabase.WithCause(err)
		}
		return nil
	})
}

// GetItem fetches one item by id.
func (s *GormKnowledgeStore) GetItem(ctx context.Context, id string) (*model.KnowledgeItem, error) {
	var item model.KnowledgeItem
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrNotFound.WithMessagef("knowledge item %q not found", id)
		}
		return nil, errors.ErrDatabase.WithCause(err)
	}
	return &item, nil
}

// ListItems returns a filtered page of items plus the total match count.
func (s *GormKnowledgeStore) ListItems(ctx context.Context, filter *ItemFilter) ([]*model.KnowledgeItem, int64, error) {
	query := s.db.WithContext(ctx).Model(&model.KnowledgeItem{})

	if filter != nil {
		if filter.Category != "" {
			query = query.Where("category = ?", filter.Category)
		}
		if filter.Language != "" {
			query = query.Where("language = ?", filter.Language)
		}
		if filter.NeedsReview != nil {
			query = query.Where("needs_review = ?", *filter.NeedsReview)
		}
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, errors.ErrDatabase.WithCause(err)
	}

	if filter != nil && filter.PageSize > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		query = query.Offset((page - 1) * filter.PageSize).Limit(filter.PageSize)
	}

	var items []*model.KnowledgeItem
	if err := query.Order("updated_at DESC").Find(&items).Error; err != nil {
		return nil, 0, errors.ErrDatabase.WithCause(err)
	}
	return items, total, nil
}

// CountItems returns the total number of items.
func (s *GormKnowledgeStore) CountItems(ctx context.Context) (int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&model.KnowledgeItem{}).Count(&total).Error; err != nil {
		return 0, errors.ErrDatabase.WithCause(err)
	}
	return total, nil
}

// CountByCategory returns item counts grouped by category.
func (s *GormKnowledgeStore) CountByCategory(ctx context.Context) ([]CategoryCount, error) {
	var counts []CategoryCount
	err := s.db.WithContext(ctx).
		Model(&model.KnowledgeItem{}).
		Select("category, count(*) as count").
		Group("category").
		Order("count DESC").
		Scan(&counts).Error
	if err != nil {
		return nil, errors.ErrDatabase.WithCause(err)
	}
	return counts, nil
}

// MarkNeedsReview flags or unflags an item for human review.
func (s *GormKnowledgeStore) MarkNeedsReview(ctx context.Context, id string, needsReview bool) error {
	result := s.db.WithContext(ctx).
		Model(&model.KnowledgeItem{}).
		Where("id = ?", id).
		Update("needs_review", needsReview)
	if result.Error != nil {
		return errors.ErrDatabase.WithCause(result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.ErrNotFound.WithMessagef("knowledge item %q not found", id)
	}
	return nil
}

// SaveEmbedding upserts the embedding record for (item, model version).
func (s *GormKnowledgeStore) SaveEmbedding(ctx context.Context, record *model.EmbeddingRecord) error {
	err := s.db.WithContext(ctx).
		Where("item_id = ? AND model_version = ?", record.ItemID, record.ModelVersion).
		Delete(&model.EmbeddingRecord{}).Error
	if err != nil {
		return errors.ErrDatabase.WithCause(err)
	}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return errors.ErrDatabase.WithCause(err)
	}
	return nil
}

// GetEmbedding fetches the embedding record for (item, model version).
// Returns nil without error when absent.
func (s *GormKnowledgeStore) GetEmbedding(ctx context.Context, itemID, modelVersion string) (*model.EmbeddingRecord, error) {
	var record model.EmbeddingRecord
	err := s.db.WithContext(ctx).
		First(&record, "item_id = ? AND model_version = ?", itemID, modelVersion).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.ErrDatabase.WithCause(err)
	}
	return &record, nil
}

// DeleteEmbeddingsForVersion removes all records of one model version.
func (s *GormKnowledgeStore) DeleteEmbeddingsForVersion(ctx context.Context, modelVersion string) error {
	err := s.db.WithContext(ctx).
		Delete(&model.EmbeddingRecord{}, "model_version = ?", modelVersion).Error
	if err != nil {
		return errors.ErrDatabase.WithCause(err)
	}
	return nil
}

// ListEmbeddingVersions returns the distinct model versions with records.
func (s *GormKnowledgeStore) ListEmbeddingVersions(ctx context.Context) ([]string, error) {
	var versions []string
	err := s.db.WithContext(ctx).
		Model(&model.EmbeddingRecord{}).
		Distinct("model_version").
		Order("model_version").
		Pluck("model_version", &versions).Error
	if err != nil {
		return nil, errors.ErrDatabase.WithCause(err)
	}
	return versions, nil
}

// SaveLearningSample persists one learning sample.
func (s *GormKnowledgeStore) SaveLearningSample(ctx context.Context, sample *model.LearningSample) error {
	if err := s.db.WithContext(ctx).Create(sample).Error; err != nil {
		return errors.ErrDatabase.WithCause(err)
	}
	return nil
}

// ListLearningSamples returns a page of samples, newest first.
func (s *GormKnowledgeStore) ListLearningSamples(ctx context.Context, page, pageSize int) ([]*model.LearningSample, int64, error) {
	query := s.db.WithContext(ctx).Model(&model.LearningSample{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, errors.ErrDatabase.WithCause(err)
	}

	if pageSize > 0 {
		if page < 1 {
			page = 1
		}
		query = query.Offset((page - 1) * pageSize).Limit(pageSize)
	}

	var samples []*model.LearningSample
	if err := query.Order("created_at DESC").Find(&samples).Error; err != nil {
		return nil, 0, errors.ErrDatabase.WithCause(err)
	}
	return samples, total, nil
}

var _ KnowledgeStore = (*GormKnowledgeStore)(nil)
