// Package model provides data models for the reply-x engine.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// KnowledgeItem represents a unit of stored reference content eligible for
// retrieval. An item's stored embedding is valid only while it matches the
// item's current (content hash, model version) pair; any content edit
// invalidates the embedding until it is regenerated.
type KnowledgeItem struct {
	ID           string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Title        string    `json:"title" gorm:"type:varchar(255);not null"`
	Content      string    `json:"content" gorm:"type:text;not null"`
	Category     string    `json:"category" gorm:"type:varchar(128);index"`
	Tags         []string  `json:"tags" gorm:"serializer:json"`
	SourceRef    string    `json:"source_ref" gorm:"type:varchar(512)"`
	Language     Language  `json:"language" gorm:"type:varchar(8);index"`
	ContentHash  string    `json:"content_hash" gorm:"type:varchar(64);index"`
	ModelVersion string    `json:"model_version" gorm:"type:varchar(64);index"`
	NeedsReview  bool      `json:"needs_review" gorm:"default:false"`
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for KnowledgeItem.
func (KnowledgeItem) TableName() string {
	return "knowledge_items"
}

// HashContent returns the canonical content hash used to decide whether a
// stored embedding is still valid for an item.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// EmbeddingRecord tracks the embedding generated for a knowledge item under
// one embedding model version. Vectors from different model versions are
// never compared; similarity search is always scoped to a single version.
type EmbeddingRecord struct {
	ItemID       string    `json:"item_id" gorm:"primaryKey;type:varchar(64)"`
	ModelVersion string    `json:"model_version" gorm:"primaryKey;type:varchar(64)"`
	ContentHash  string    `json:"content_hash" gorm:"type:varchar(64);not null"`
	Dimension    int       `json:"dimension"`
	Vector       []float32 `json:"vector" gorm:"serializer:json"`
	GeneratedAt  time.Time `json:"generated_at" gorm:"autoCreateTime"`
}

// TableName specifies the table name for EmbeddingRecord.
func (EmbeddingRecord) TableName() string {
	return "embedding_records"
}

// Current reports whether the record still matches the item's content and
// the target model version. Regeneration skips items whose record is
// current, which makes the pass idempotent and safely resumable.
func (r *EmbeddingRecord) Current(contentHash, modelVersion string) bool {
	return r != nil && r.ContentHash == contentHash && r.ModelVersion == modelVersion
}

// RegenJobStatus enumerates batch regeneration job states.
type RegenJobStatus string

const (
	RegenJobRunning   RegenJobStatus = "running"
	RegenJobCompleted RegenJobStatus = "completed"
	RegenJobFailed    RegenJobStatus = "failed"
)

// RegenJob is the handle returned by a batch regeneration run.
type RegenJob struct {
	ID            string         `json:"id"`
	TargetVersion string         `json:"target_version"`
	Status        RegenJobStatus `json:"status"`
	Total         int64          `json:"total"`
	Processed     int64          `json:"processed"`
	Skipped       int64          `json:"skipped"`
	Failed        int64          `json:"failed"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    *time.Time     `json:"finished_at,omitempty"`
	Error         string         `json:"error,omitempty"`
}
