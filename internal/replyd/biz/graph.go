package biz

import (
	"context"
	"sort"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/reply-x/internal/model"
	"github.com/kart-io/reply-x/internal/replyd/store"
	"github.com/kart-io/reply-x/pkg/errors"
)

// QueryLog exposes aggregated query traffic by category. It is optional;
// without one, gap analysis is omitted from structure reports.
type QueryLog interface {
	// CategoryCounts returns the number of recent queries per category.
	CategoryCounts(ctx context.Context) (map[string]int64, error)
}

// GraphConfig configures graph building and structure analysis.
type GraphConfig struct {
	// DuplicateThreshold is the similarity above which two items count as
	// near-duplicates.
	DuplicateThreshold float64
	// GapMinQueries is the query volume a category needs before its
	// absence from the knowledge base counts as a gap.
	GapMinQueries int64
}

// DefaultGraphConfig returns the default graph configuration.
func DefaultGraphConfig() *GraphConfig {
	return &GraphConfig{
		DuplicateThreshold: 0.95,
		GapMinQueries:      5,
	}
}

// GraphBuilder derives similarity graphs over the knowledge base. Graphs
// are disposable views, rebuilt on demand from current embedding records;
// nothing about them is a source of truth.
type GraphBuilder struct {
	store    store.KnowledgeStore
	version  func() string
	queryLog QueryLog
	config   *GraphConfig
}

// NewGraphBuilder creates a graph builder. version supplies the embedding
// model version graphs are built under; queryLog may be nil.
func NewGraphBuilder(knowledgeStore store.KnowledgeStore, version func() string, queryLog QueryLog, config *GraphConfig) *GraphBuilder {
	if config == nil {
		config = DefaultGraphConfig()
	}
	return &GraphBuilder{
		store:    knowledgeStore,
		version:  version,
		queryLog: queryLog,
		config:   config,
	}
}

// BuildGraph connects every pair of items whose similarity reaches
// minSimilarity. Comparison is pairwise over current embedding records;
// quadratic, which is fine for knowledge bases of the expected size.
func (b *GraphBuilder) BuildGraph(ctx context.Context, minSimilarity float64) (*model.KnowledgeGraph, error) {
	if minSimilarity < 0 || minSimilarity > 1 {
		return nil, errors.ErrValidation.WithMessage("minSimilarity must be in [0,1]")
	}

	items, _, err := b.store.ListItems(ctx, nil)
	if err != nil {
		return nil, err
	}

	version := b.version()
	var nodes []model.GraphNode
	var vectors [][]float32

	for _, item := range items {
		record, err := b.store.GetEmbedding(ctx, item.ID, version)
		if err != nil {
			return nil, err
		}
		if !record.Current(item.ContentHash, version) {
			// Items without a current embedding cannot be compared.
			logger.Debugw("skipping item without current embedding",
				"item_id", item.ID,
				"model_version", version,
			)
			continue
		}

		vec := make([]float32, len(record.Vector))
		copy(vec, record.Vector)
		vec, ok := store.Normalize(vec)
		if !ok {
			continue
		}

		nodes = append(nodes, model.GraphNode{ItemID: item.ID, Category: item.Category})
		vectors = append(vectors, vec)
	}

	var edges []model.GraphEdge
	for i := 0; i < len(vectors); i++ {
		for j := i + 1; j < len(vectors); j++ {
			score := store.CosineScore(vectors[i], vectors[j])
			if score >= minSimilarity {
				edges = append(edges, model.GraphEdge{From: i, To: j, Weight: score})
			}
		}
	}

	graph := &model.KnowledgeGraph{
		Nodes:         nodes,
		Edges:         edges,
		MinSimilarity: minSimilarity,
		BuiltAt:       time.Now(),
	}
	logger.Infow("knowledge graph built",
		"nodes", len(nodes),
		"edges", len(edges),
		"min_similarity", minSimilarity,
	)
	return graph, nil
}

// AnalyzeStructure reports near-duplicate clusters, isolated items and,
// when a query log is configured, categories with query demand but no
// knowledge coverage.
func (b *GraphBuilder) AnalyzeStructure(ctx context.Context, graph *model.KnowledgeGraph) (*model.StructureReport, error) {
	if graph == nil {
		return nil, errors.ErrValidation.WithMessage("graph is required")
	}

	report := &model.StructureReport{
		DuplicateClusters: duplicateClusters(graph, b.config.DuplicateThreshold),
		IsolatedItems:     isolatedItems(graph),
	}

	if b.queryLog != nil {
		gaps, err := b.gapCategories(ctx, graph)
		if err != nil {
			return nil, err
		}
		report.GapCategories = gaps
	}

	return report, nil
}

// duplicateClusters groups nodes connected by edges above the duplicate
// threshold, using union-find over node indices.
func duplicateClusters(graph *model.KnowledgeGraph, threshold float64) [][]string {
	parent := make([]int, len(graph.Nodes))
	for i := range parent {
		parent[i] = i
	}

	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	for _, edge := range graph.Edges {
		if edge.Weight >= threshold {
			union(edge.From, edge.To)
		}
	}

	groups := make(map[int][]string)
	for i, node := range graph.Nodes {
		root := find(i)
		groups[root] = append(groups[root], node.ItemID)
	}

	clusters := make([][]string, 0)
	for _, members := range groups {
		if len(members) > 1 {
			sort.Strings(members)
			clusters = append(clusters, members)
		}
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i][0] < clusters[j][0] })
	return clusters
}

// isolatedItems returns items with no edge at the graph's similarity floor.
func isolatedItems(graph *model.KnowledgeGraph) []string {
	connected := make(map[int]bool)
	for _, edge := range graph.Edges {
		connected[edge.From] = true
		connected[edge.To] = true
	}

	isolated := make([]string, 0)
	for i, node := range graph.Nodes {
		if !connected[i] {
			isolated = append(isolated, node.ItemID)
		}
	}
	return isolated
}

// gapCategories finds categories that customers ask about often but the
// knowledge base does not cover.
func (b *GraphBuilder) gapCategories(ctx context.Context, graph *model.KnowledgeGraph) ([]string, error) {
	counts, err := b.queryLog.CategoryCounts(ctx)
	if err != nil {
		return nil, errors.ErrUpstreamAnalysis.WithCause(err)
	}

	covered := make(map[string]bool)
	for _, node := range graph.Nodes {
		if node.Category != "" {
			covered[node.Category] = true
		}
	}

	gaps := make([]string, 0)
	for category, count := range counts {
		if count >= b.config.GapMinQueries && !covered[category] {
			gaps = append(gaps, category)
		}
	}
	sort.Strings(gaps)
	return gaps, nil
}
