package model

import (
	"time"
)

// SignalKind identifies the analyzer that produced a SignalResult.
type SignalKind string

const (
	SignalLanguage  SignalKind = "language"
	SignalSentiment SignalKind = "sentiment"
	SignalIntent    SignalKind = "intent"
)

// Sentiment categories form a small closed set.
const (
	SentimentPositive   = "positive"
	SentimentNeutral    = "neutral"
	SentimentNegative   = "negative"
	SentimentFrustrated = "frustrated"
)

// Entity is a span extracted by intent recognition. Start/End are rune
// offsets into the analyzed text; entities with out-of-bounds spans are
// dropped by the analyzer, never surfaced.
type Entity struct {
	Type  string `json:"type"`
	Value string `json:"value"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// SignalResult is the immutable outcome of one analyzer run. It is produced
// fresh per request and never cached across distinct input text.
type SignalResult struct {
	Kind      SignalKind `json:"kind"`
	Label     string     `json:"label"`
	Score     float64    `json:"score"`
	Rationale string     `json:"rationale,omitempty"`
	Entities  []Entity   `json:"entities,omitempty"`
}

// RetrievalMatch references a knowledge item returned by similarity search.
// Score is cosine similarity mapped to [0,1]. Collections of matches are
// ordered by descending score; ties break toward the most recently updated
// item.
type RetrievalMatch struct {
	ItemID  string  `json:"id"`
	Title   string  `json:"title,omitempty"`
	Content string  `json:"content,omitempty"`
	Score   float64 `json:"relevance"`
	Rank    int     `json:"rank"`
}

// ReplyMetadata describes how a reply was produced.
type ReplyMetadata struct {
	Language            Language `json:"language"`
	Sentiment           string   `json:"sentiment,omitempty"`
	Intent              string   `json:"intent,omitempty"`
	Translated          bool     `json:"translated"`
	TranslationFellBack bool     `json:"translation_fell_back"`
	ModelVersion        string   `json:"model_version"`
	DegradedSignals     []string `json:"degraded_signals,omitempty"`
}

// ReplyResult is the final product of the reply pipeline. It is produced
// once per request and never mutated after return.
type ReplyResult struct {
	Reply      string           `json:"reply"`
	Confidence float64          `json:"confidence"`
	Sources    []RetrievalMatch `json:"sources"`
	Metadata   ReplyMetadata    `json:"metadata"`
}

// LearningPointKind classifies a segment-level change between a generated
// reply and its human-corrected version.
type LearningPointKind string

const (
	LearningPointAdded    LearningPointKind = "added"
	LearningPointRemoved  LearningPointKind = "removed"
	LearningPointReworded LearningPointKind = "reworded"
)

// LearningPoint is a short description of one material change.
type LearningPoint struct {
	Kind     LearningPointKind `json:"kind"`
	Original string            `json:"original,omitempty"`
	Revised  string            `json:"revised,omitempty"`
	Context  string            `json:"context,omitempty"`
}

// LearningSample captures the signal derived from a human edit of a
// generated reply. Write-once; read for audit and statistics.
type LearningSample struct {
	ID            string          `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Query         string          `json:"query" gorm:"type:text"`
	OriginalReply string          `json:"original_reply" gorm:"type:text"`
	HumanReply    string          `json:"improved_reply" gorm:"type:text"`
	Points        []LearningPoint `json:"learning_points" gorm:"serializer:json"`
	Confidence    float64         `json:"confidence"`
	CreatedAt     time.Time       `json:"created_at" gorm:"autoCreateTime"`
}

// TableName specifies the table name for LearningSample.
func (LearningSample) TableName() string {
	return "learning_samples"
}

// ConversationSummary is the result of summarizing a customer's recent
// message history.
type ConversationSummary struct {
	Summary       string   `json:"summary"`
	KeyPoints     []string `json:"key_points"`
	CustomerNeeds []string `json:"customer_needs"`
	ActionItems   []string `json:"action_items"`
}

// GraphNode is one knowledge item in a similarity graph.
type GraphNode struct {
	ItemID   string `json:"item_id"`
	Category string `json:"category,omitempty"`
}

// GraphEdge connects two nodes by index into the node arena. Index-based
// edges keep the graph serializable and free of object cross-references.
type GraphEdge struct {
	From   int     `json:"from"`
	To     int     `json:"to"`
	Weight float64 `json:"weight"`
}

// KnowledgeGraph is a derived, disposable view over the vector index. It is
// rebuilt on demand and never persisted as a source of truth.
type KnowledgeGraph struct {
	Nodes         []GraphNode `json:"nodes"`
	Edges         []GraphEdge `json:"edges"`
	MinSimilarity float64     `json:"min_similarity"`
	BuiltAt       time.Time   `json:"built_at"`
}

// OrganizationResult is a suggested reclassification for one item.
type OrganizationResult struct {
	ItemID            string   `json:"item_id"`
	SuggestedCategory string   `json:"suggested_category"`
	SuggestedTags     []string `json:"suggested_tags"`
	Reason            string   `json:"reason,omitempty"`
}

// StructureReport is the output of knowledge structure analysis.
// GapCategories is omitted (nil) when no query-log source is configured.
type StructureReport struct {
	DuplicateClusters [][]string `json:"duplicate_clusters"`
	IsolatedItems     []string   `json:"isolated_items"`
	GapCategories     []string   `json:"gap_categories,omitempty"`
}
