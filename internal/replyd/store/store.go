// Package store provides the persistence layer for the reply engine: the
// vector index used for similarity search and the relational knowledge
// store backing it.
package store

import (
	"context"
	"time"

	"github.com/kart-io/reply-x/internal/model"
)

// IndexEntry is one vector plus the metadata needed for filtered search.
// Vectors are length-normalized on upsert; entries are owned by the index
// after Upsert returns.
type IndexEntry struct {
	ItemID   string
	Vector   []float32
	Title    string
	Content  string
	Category string
	Tags     []string
	Source   string
	Language model.Language

	// UpdatedAt breaks score ties toward the most recently updated item.
	UpdatedAt time.Time
}

// SearchFilter restricts candidates before ranking. Zero-valued fields do
// not filter.
type SearchFilter struct {
	Category string
	Language model.Language
	Tag      string
}

// SearchResult is one ranked hit from the vector index. Score is cosine
// similarity mapped to [0,1].
type SearchResult struct {
	ItemID    string
	Title     string
	Content   string
	Category  string
	Score     float64
	UpdatedAt time.Time
}

// VectorIndex is the similarity-search contract. Every operation is scoped
// to one embedding model version; vectors from different versions are never
// mixed in a search.
type VectorIndex interface {
	// Upsert inserts or replaces the entry for entry.ItemID under the
	// given model version. The vector is normalized; a zero vector or a
	// dimension mismatch with the version's existing vectors is rejected.
	Upsert(ctx context.Context, modelVersion string, entry *IndexEntry) error

	// Delete removes the entry for itemID under the model version.
	// Deleting an absent entry is not an error.
	Delete(ctx context.Context, modelVersion, itemID string) error

	// Search returns up to topK entries ranked by descending score.
	// The filter is applied before ranking. Returns ErrIndexEmpty when the
	// version holds no vectors at all.
	Search(ctx context.Context, modelVersion string, vector []float32, topK int, filter *SearchFilter) ([]*SearchResult, error)

	// Count returns the number of vectors stored under the model version.
	Count(ctx context.Context, modelVersion string) (int64, error)

	// DropVersion removes every vector stored under the model version.
	DropVersion(ctx context.Context, modelVersion string) error

	// Versions lists the model versions currently holding vectors.
	Versions(ctx context.Context) ([]string, error)

	// Close releases index resources.
	Close(ctx context.Context) error
}
