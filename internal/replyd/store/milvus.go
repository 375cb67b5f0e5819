package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/milvus-io/milvus/client/v2/entity"

	"github.com/kart-io/reply-x/pkg/component/milvus"
	"github.com/kart-io/reply-x/pkg/errors"
)

const milvusCollectionPrefix = "replyx_"

// MilvusIndex implements VectorIndex on an external Milvus deployment.
// Version scoping maps to one collection per model version, so dropping a
// version is a collection drop and cross-version contamination is
// structurally impossible.
type MilvusIndex struct {
	client *milvus.Client
}

// NewMilvusIndex creates a Milvus-backed index.
func NewMilvusIndex(client *milvus.Client) *MilvusIndex {
	return &MilvusIndex{client: client}
}

// collectionName maps a model version to its collection. Milvus collection
// names only allow letters, digits and underscores.
func collectionName(modelVersion string) string {
	var b strings.Builder
	b.WriteString(milvusCollectionPrefix)
	for _, r := range modelVersion {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func milvusSchema(modelVersion string, dimension int) *milvus.CollectionSchema {
	return &milvus.CollectionSchema{
		Name:        collectionName(modelVersion),
		Description: fmt.Sprintf("reply-x knowledge vectors for model version %s", modelVersion),
		Dimension:   dimension,
		MetaFields: []milvus.MetaField{
			{Name: "title", DataType: entity.FieldTypeVarChar, MaxLen: 255},
			{Name: "content", DataType: entity.FieldTypeVarChar, MaxLen: 65535},
			{Name: "category", DataType: entity.FieldTypeVarChar, MaxLen: 128},
			{Name: "tags", DataType: entity.FieldTypeVarChar, MaxLen: 2048},
			{Name: "source", DataType: entity.FieldTypeVarChar, MaxLen: 512},
			{Name: "language", DataType: entity.FieldTypeVarChar, MaxLen: 8},
			{Name: "updated_at", DataType: entity.FieldTypeInt64},
		},
	}
}

var milvusOutputFields = []string{"title", "content", "category", "tags", "updated_at"}

// Upsert implements VectorIndex. Milvus has no native string-key upsert in
// this schema, so it is a delete followed by an insert.
func (m *MilvusIndex) Upsert(ctx context.Context, modelVersion string, entry *IndexEntry) error {
	if modelVersion == "" || entry == nil || entry.ItemID == "" {
		return errors.ErrValidation.WithMessage("model version and item id are required")
	}

	vec, ok := Normalize(entry.Vector)
	if !ok {
		return errors.ErrValidation.WithMessage("vector must be non-empty and non-zero")
	}
	entry.Vector = vec

	coll := collectionName(modelVersion)
	if err := m.client.EnsureCollection(ctx, milvusSchema(modelVersion, len(vec))); err != nil {
		return errors.ErrDatabase.WithCause(err)
	}

	if err := m.client.DeleteByIDs(ctx, coll, []string{entry.ItemID}); err != nil {
		return errors.ErrDatabase.WithCause(err)
	}

	tags, _ := json.Marshal(entry.Tags)
	data := &milvus.InsertData{
		IDs:        []string{entry.ItemID},
		Embeddings: [][]float32{vec},
		Metadata: map[string][]any{
			"title":      {entry.Title},
			"content":    {entry.Content},
			"category":   {entry.Category},
			"tags":       {string(tags)},
			"source":     {entry.Source},
			"language":   {string(entry.Language)},
			"updated_at": {entry.UpdatedAt.UnixMilli()},
		},
	}
	if err := m.client.Insert(ctx, coll, data); err != nil {
		return errors.ErrDatabase.WithCause(err)
	}
	return nil
}

// Delete implements VectorIndex.
func (m *MilvusIndex) Delete(ctx context.Context, modelVersion, itemID string) error {
	coll := collectionName(modelVersion)
	exists, err := m.client.HasCollection(ctx, coll)
	if err != nil {
		return errors.ErrDatabase.WithCause(err)
	}
	if !exists {
		return nil
	}
	if err := m.client.DeleteByIDs(ctx, coll, []string{itemID}); err != nil {
		return errors.ErrDatabase.WithCause(err)
	}
	return nil
}

func escapeExpr(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}

func filterExpr(filter *SearchFilter) string {
	if filter == nil {
		return ""
	}
	var parts []string
	if filter.Category != "" {
		parts = append(parts, fmt.Sprintf(`category == "%s"`, escapeExpr(filter.Category)))
	}
	if filter.Language != "" {
		parts = append(parts, fmt.Sprintf(`language == "%s"`, escapeExpr(string(filter.Language))))
	}
	return strings.Join(parts, " and ")
}

// Search implements VectorIndex. Category and language filters run server
// side; tag filtering decodes the JSON tags column client side.
func (m *MilvusIndex) Search(ctx context.Context, modelVersion string, vector []float32, topK int, filter *SearchFilter) ([]*SearchResult, error) {
	if topK <= 0 {
		return nil, errors.ErrValidation.WithMessage("topK must be positive")
	}

	query := make([]float32, len(vector))
	copy(query, vector)
	query, ok := Normalize(query)
	if !ok {
		return nil, errors.ErrValidation.WithMessage("query vector must be non-empty and non-zero")
	}

	coll := collectionName(modelVersion)
	exists, err := m.client.HasCollection(ctx, coll)
	if err != nil {
		return nil, errors.ErrDatabase.WithCause(err)
	}
	if !exists {
		return nil, errors.ErrIndexEmpty.WithMessagef("no vectors indexed for model version %q", modelVersion)
	}
	count, err := m.client.GetCollectionStats(ctx, coll)
	if err != nil {
		return nil, errors.ErrDatabase.WithCause(err)
	}
	if count == 0 {
		return nil, errors.ErrIndexEmpty.WithMessagef("no vectors indexed for model version %q", modelVersion)
	}

	fetchK := topK
	tagFilter := filter != nil && filter.Tag != ""
	if tagFilter {
		// Overfetch so client-side tag filtering can still fill topK.
		fetchK = topK * 4
	}

	rows, err := m.client.Search(ctx, coll, query, fetchK, filterExpr(filter), milvusOutputFields)
	if err != nil {
		return nil, errors.ErrDatabase.WithCause(err)
	}

	results := make([]*SearchResult, 0, len(rows))
	for _, row := range rows {
		if tagFilter && !hasTag(row.Metadata["tags"], filter.Tag) {
			continue
		}
		r := &SearchResult{
			ItemID: row.ID,
			// Cosine similarity in [-1,1] maps onto the [0,1] scale shared
			// with the in-memory index.
			Score: clamp01((float64(row.Score) + 1) / 2),
		}
		if v, ok := row.Metadata["title"].(string); ok {
			r.Title = v
		}
		if v, ok := row.Metadata["content"].(string); ok {
			r.Content = v
		}
		if v, ok := row.Metadata["category"].(string); ok {
			r.Category = v
		}
		if v, ok := row.Metadata["updated_at"].(int64); ok {
			r.UpdatedAt = time.UnixMilli(v)
		}
		results = append(results, r)
	}

	sort.SliceStable(results, func(i, j int) bool {
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

func hasTag(raw any, tag string) bool {
	s, ok := raw.(string)
	if !ok || s == "" {
		return false
	}
	var tags []string
	if err := json.Unmarshal([]byte(s), &tags); err != nil {
		return false
	}
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Count implements VectorIndex.
func (m *MilvusIndex) Count(ctx context.Context, modelVersion string) (int64, error) {
	coll := collectionName(modelVersion)
	exists, err := m.client.HasCollection(ctx, coll)
	if err != nil {
		return 0, errors.ErrDatabase.WithCause(err)
	}
	if !exists {
		return 0, nil
	}
	count, err := m.client.GetCollectionStats(ctx, coll)
	if err != nil {
		return 0, errors.ErrDatabase.WithCause(err)
	}
	return count, nil
}

// DropVersion implements VectorIndex.
func (m *MilvusIndex) DropVersion(ctx context.Context, modelVersion string) error {
	coll := collectionName(modelVersion)
	exists, err := m.client.HasCollection(ctx, coll)
	if err != nil {
		return errors.ErrDatabase.WithCause(err)
	}
	if !exists {
		return nil
	}
	if err := m.client.DropCollection(ctx, coll); err != nil {
		return errors.ErrDatabase.WithCause(err)
	}
	return nil
}

// Versions implements VectorIndex. The original model version cannot be
// reconstructed from a sanitized collection name, so the sanitized suffix
// is returned.
func (m *MilvusIndex) Versions(ctx context.Context) ([]string, error) {
	names, err := m.client.ListCollections(ctx)
	if err != nil {
		return nil, errors.ErrDatabase.WithCause(err)
	}
	versions := make([]string, 0, len(names))
	for _, name := range names {
		if strings.HasPrefix(name, milvusCollectionPrefix) {
			versions = append(versions, strings.TrimPrefix(name, milvusCollectionPrefix))
		}
	}
	sort.Strings(versions)
	return versions, nil
}

// Close implements VectorIndex.
func (m *MilvusIndex) Close(ctx context.Context) error {
	return m.client.Close(ctx)
}

var _ VectorIndex = (*MilvusIndex)(nil)
