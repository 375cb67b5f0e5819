package biz

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/kart-io/logger"

	"github.com/kart-io/reply-x/internal/model"
	"github.com/kart-io/reply-x/internal/replyd/store"
	"github.com/kart-io/reply-x/pkg/errors"
	"github.com/kart-io/reply-x/pkg/pool"
)

// LearningConfig configures the active learning engine.
type LearningConfig struct {
	// RewordOverlap is the minimum token Jaccard overlap for a removed and
	// an added segment to pair up as a rewording.
	RewordOverlap float64
	// StaleScore is the minimum retrieval score for a changed segment to
	// flag its best-matching knowledge item for review.
	StaleScore float64
}

// DefaultLearningConfig returns the default learning configuration.
func DefaultLearningConfig() *LearningConfig {
	return &LearningConfig{
		RewordOverlap: 0.5,
		StaleScore:    0.85,
	}
}

// LearningEngine derives learning signal from human edits of generated
// replies. Samples are write-once; material changes additionally propose
// stale-source reviews on a background pool without blocking the caller.
type LearningEngine struct {
	store      store.KnowledgeStore
	retriever  *KnowledgeRetriever
	background *pool.Pool
	config     *LearningConfig
}

// NewLearningEngine creates a learning engine. background may be nil, which
// disables stale-source proposals.
func NewLearningEngine(knowledgeStore store.KnowledgeStore, retriever *KnowledgeRetriever, background *pool.Pool, config *LearningConfig) *LearningEngine {
	if config == nil {
		config = DefaultLearningConfig()
	}
	return &LearningEngine{
		store:      knowledgeStore,
		retriever:  retriever,
		background: background,
		config:     config,
	}
}

// Learn diffs the generated reply against its human-corrected version and
// persists the resulting sample. An edit that is identical after
// normalization produces a sample with zero points and confidence 0.
func (e *LearningEngine) Learn(ctx context.Context, query, originalReply, humanReply string) (*model.LearningSample, error) {
	if originalReply == "" || humanReply == "" {
		return nil, errors.ErrValidation.WithMessage("original and improved replies are required")
	}

	points := diffReplies(originalReply, humanReply, e.config.RewordOverlap)

	sample := &model.LearningSample{
		ID:            uuid.NewString(),
		Query:         query,
		OriginalReply: originalReply,
		HumanReply:    humanReply,
		Points:        points,
		Confidence:    sampleConfidence(originalReply, points),
	}

	if err := e.store.SaveLearningSample(ctx, sample); err != nil {
		return nil, err
	}

	if len(points) > 0 {
		e.proposeStaleSources(sample)
	}

	logger.Infow("learning sample recorded",
		"sample_id", sample.ID,
		"points", len(points),
		"confidence", sample.Confidence,
	)
	return sample, nil
}

// proposeStaleSources submits fire-and-forget review proposals for
// knowledge items that closely match corrected content. Pool overload just
// drops the proposal; the sample itself is already saved.
func (e *LearningEngine) proposeStaleSources(sample *model.LearningSample) {
	if e.background == nil || e.retriever == nil {
		return
	}

	for _, point := range sample.Points {
		if point.Kind == model.LearningPointAdded || point.Original == "" {
			continue
		}
		segment := point.Original

		err := e.background.Submit(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			matches, err := e.retriever.Retrieve(ctx, segment, nil, e.config.StaleScore, 1)
			if err != nil || len(matches) == 0 {
				return
			}
			if err := e.store.MarkNeedsReview(ctx, matches[0].ItemID, true); err != nil {
				logger.Debugw("stale-source proposal failed",
					"item_id", matches[0].ItemID,
					"error", err.Error(),
				)
				return
			}
			logger.Infow("knowledge item flagged for review",
				"item_id", matches[0].ItemID,
				"sample_id", sample.ID,
				"score", matches[0].Score,
			)
		})
		if err != nil {
			logger.Debugw("stale-source proposal dropped", "error", err.Error())
		}
	}
}

// Samples returns a page of recorded samples, newest first.
func (e *LearningEngine) Samples(ctx context.Context, page, pageSize int) ([]*model.LearningSample, int64, error) {
	return e.store.ListLearningSamples(ctx, page, pageSize)
}

// segmentReply splits a reply into sentence-level segments.
func segmentReply(text string) []string {
	var segments []string
	var b strings.Builder

	flush := func() {
		s := strings.TrimSpace(b.String())
		if s != "" {
			segments = append(segments, s)
		}
		b.Reset()
	}

	for _, r := range text {
		switch r {
		case '.', '!', '?', '\n':
			b.WriteRune(r)
			flush()
		default:
			b.WriteRune(r)
		}
	}
	flush()
	return segments
}

// normalizeSegment lowercases, strips punctuation and collapses whitespace
// so cosmetic edits do not register as changes.
func normalizeSegment(s string) string {
	var b strings.Builder
	lastSpace := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace && b.Len() > 0 {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// diffReplies produces segment-level learning points: removed segments,
// added segments, and removed/added pairs with enough token overlap folded
// into rewordings.
func diffReplies(original, human string, rewordOverlap float64) []model.LearningPoint {
	origSegs := segmentReply(original)
	humanSegs := segmentReply(human)

	origNorm := make([]string, len(origSegs))
	for i, s := range origSegs {
		origNorm[i] = normalizeSegment(s)
	}
	humanNorm := make([]string, len(humanSegs))
	for i, s := range humanSegs {
		humanNorm[i] = normalizeSegment(s)
	}

	// LCS over normalized segments; everything off the common subsequence
	// is a change.
	removedIdx, addedIdx := lcsDiff(origNorm, humanNorm)

	var points []model.LearningPoint
	usedAdded := make(map[int]bool)

	for _, ri := range removedIdx {
		paired := -1
		best := rewordOverlap
		for _, ai := range addedIdx {
			if usedAdded[ai] {
				continue
			}
			if overlap := tokenJaccard(origNorm[ri], humanNorm[ai]); overlap > best {
				best = overlap
				paired = ai
			}
		}
		if paired >= 0 {
			usedAdded[paired] = true
			points = append(points, model.LearningPoint{
				Kind:     model.LearningPointReworded,
				Original: origSegs[ri],
				Revised:  humanSegs[paired],
			})
		} else {
			points = append(points, model.LearningPoint{
				Kind:     model.LearningPointRemoved,
				Original: origSegs[ri],
			})
		}
	}

	for _, ai := range addedIdx {
		if usedAdded[ai] {
			continue
		}
		points = append(points, model.LearningPoint{
			Kind:    model.LearningPointAdded,
			Revised: humanSegs[ai],
		})
	}

	return points
}

// lcsDiff returns the indices of segments unique to a (removed) and unique
// to b (added), computed from the longest common subsequence.
func lcsDiff(a, b []string) (removed, added []int) {
	n, m := len(a), len(b)
	dp := make([][]int, n+1)
	for i := range dp {
		dp[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				dp[i][j] = dp[i+1][j+1] + 1
			} else if dp[i+1][j] >= dp[i][j+1] {
				dp[i][j] = dp[i+1][j]
			} else {
				dp[i][j] = dp[i][j+1]
			}
		}
	}

	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			i++
			j++
		case dp[i+1][j] >= dp[i][j+1]:
			removed = append(removed, i)
			i++
		default:
			added = append(added, j)
			j++
		}
	}
	for ; i < n; i++ {
		removed = append(removed, i)
	}
	for ; j < m; j++ {
		added = append(added, j)
	}
	return removed, added
}

// tokenJaccard computes token-set Jaccard similarity of two normalized
// segments.
func tokenJaccard(a, b string) float64 {
	ta := strings.Fields(a)
	tb := strings.Fields(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	setA := make(map[string]struct{}, len(ta))
	for _, t := range ta {
		setA[t] = struct{}{}
	}
	setB := make(map[string]struct{}, len(tb))
	for _, t := range tb {
		setB[t] = struct{}{}
	}

	var inter int
	for t := range setA {
		if _, ok := setB[t]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// sampleConfidence scales with the share of the original reply that was
// changed. No points means confidence 0.
func sampleConfidence(original string, points []model.LearningPoint) float64 {
	if len(points) == 0 {
		return 0
	}
	total := len(segmentReply(original))
	if total == 0 {
		return 0
	}
	conf := float64(len(points)) / float64(total)
	return clampScore(conf)
}
