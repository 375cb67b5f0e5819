package store

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/kart-io/reply-x/pkg/errors"
)

// MemoryIndex is an in-process VectorIndex. It is the default backend for
// single-node deployments and tests; MilvusIndex replaces it when an
// external vector database is configured.
type MemoryIndex struct {
	mu       sync.RWMutex
	versions map[string]*versionBucket
}

type versionBucket struct {
	dimension int
	entries   map[string]*IndexEntry
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		versions: make(map[string]*versionBucket),
	}
}

// Normalize scales vec to unit length in place and returns it. A zero or
// empty vector cannot be normalized and yields false.
func Normalize(vec []float32) ([]float32, bool) {
	if len(vec) == 0 {
		return nil, false
	}
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return nil, false
	}
	norm := math.Sqrt(sum)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, true
}

// CosineScore maps the dot product of two unit vectors into [0,1].
func CosineScore(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	score := (dot + 1) / 2
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// Upsert implements VectorIndex.
func (m *MemoryIndex) Upsert(ctx context.Context, modelVersion string, entry *IndexEntry) error {
	if modelVersion == "" || entry == nil || entry.ItemID == "" {
		return errors.ErrValidation.WithMessage("model version and item id are required")
	}

	vec, ok := Normalize(entry.Vector)
	if !ok {
		return errors.ErrValidation.WithMessage("vector must be non-empty and non-zero")
	}
	entry.Vector = vec

	m.mu.Lock()
	defer m.mu.Unlock()

	bucket, ok := m.versions[modelVersion]
	if !ok {
		bucket = &versionBucket{
			dimension: len(vec),
			entries:   make(map[string]*IndexEntry),
		}
		m.versions[modelVersion] = bucket
	} else if len(vec) != bucket.dimension {
		return errors.ErrValidation.WithMessagef(
			"vector dimension %d does not match index dimension %d", len(vec), bucket.dimension)
	}

	bucket.entries[entry.ItemID] = entry
	return nil
}

// Delete implements VectorIndex.
func (m *MemoryIndex) Delete(ctx context.Context, modelVersion, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if bucket, ok := m.versions[modelVersion]; ok {
		delete(bucket.entries, itemID)
		if len(bucket.entries) == 0 {
			delete(m.versions, modelVersion)
		}
	}
	return nil
}

func matchesFilter(entry *IndexEntry, filter *SearchFilter) bool {
	if filter == nil {
		return true
	}
	if filter.Category != "" && entry.Category != filter.Category {
		return false
	}
	if filter.Language != "" && entry.Language != filter.Language {
		return false
	}
	if filter.Tag != "" {
		found := false
		for _, tag := range entry.Tags {
			if tag == filter.Tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Search implements VectorIndex.
func (m *MemoryIndex) Search(ctx context.Context, modelVersion string, vector []float32, topK int, filter *SearchFilter) ([]*SearchResult, error) {
	if topK <= 0 {
		return nil, errors.ErrValidation.WithMessage("topK must be positive")
	}

	query := make([]float32, len(vector))
	copy(query, vector)
	query, ok := Normalize(query)
	if !ok {
		return nil, errors.ErrValidation.WithMessage("query vector must be non-empty and non-zero")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	bucket, exists := m.versions[modelVersion]
	if !exists || len(bucket.entries) == 0 {
		return nil, errors.ErrIndexEmpty.WithMessagef("no vectors indexed for model version %q", modelVersion)
	}
	if len(query) != bucket.dimension {
		return nil, errors.ErrValidation.WithMessagef(
			"query dimension %d does not match index dimension %d", len(query), bucket.dimension)
	}

	results := make([]*SearchResult, 0, len(bucket.entries))
	for _, entry := range bucket.entries {
		if !matchesFilter(entry, filter) {
			continue
		}
		results = append(results, &SearchResult{
			ItemID:    entry.ItemID,
			Title:     entry.Title,
			Content:   entry.Content,
			Category:  entry.Category,
			Score:     CosineScore(query, entry.Vector),
			UpdatedAt: entry.UpdatedAt,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].UpdatedAt.After(results[j].UpdatedAt)
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Count implements VectorIndex.
func (m *MemoryIndex) Count(ctx context.Context, modelVersion string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if bucket, ok := m.versions[modelVersion]; ok {
		return int64(len(bucket.entries)), nil
	}
	return 0, nil
}

// DropVersion implements VectorIndex.
func (m *MemoryIndex) DropVersion(ctx context.Context, modelVersion string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.versions, modelVersion)
	return nil
}

// Versions implements VectorIndex.
func (m *MemoryIndex) Versions(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	versions := make([]string, 0, len(m.versions))
	for v := range m.versions {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions, nil
}

// Close implements VectorIndex.
func (m *MemoryIndex) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.versions = make(map[string]*versionBucket)
	return nil
}

var _ VectorIndex = (*MemoryIndex)(nil)
