package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/reply-x/internal/model"
	"github.com/kart-io/reply-x/internal/replyd/biz"
	"github.com/kart-io/reply-x/internal/replyd/store"
	"github.com/kart-io/reply-x/pkg/response"
)

// KnowledgeHandler handles knowledge base management requests.
type KnowledgeHandler struct {
	svc   *biz.KnowledgeService
	graph *biz.GraphBuilder
	regen *biz.Regenerator
}

// NewKnowledgeHandler creates a KnowledgeHandler.
func NewKnowledgeHandler(svc *biz.KnowledgeService, graph *biz.GraphBuilder, regen *biz.Regenerator) *KnowledgeHandler {
	return &KnowledgeHandler{svc: svc, graph: graph, regen: regen}
}

// ItemRequest is the body for creating or updating a knowledge item.
type ItemRequest struct {
	Title     string   `json:"title" binding:"required"`
	Content   string   `json:"content" binding:"required"`
	Category  string   `json:"category"`
	Tags      []string `json:"tags"`
	SourceRef string   `json:"source_ref"`
	Language  string   `json:"language"`
}

func (r *ItemRequest) toModel(id string) *model.KnowledgeItem {
	return &model.KnowledgeItem{
		ID:        id,
		Title:     r.Title,
		Content:   r.Content,
		Category:  r.Category,
		Tags:      r.Tags,
		SourceRef: r.SourceRef,
		Language:  model.ParseLanguage(r.Language),
	}
}

// CreateItem creates a knowledge item and indexes its embedding.
func (h *KnowledgeHandler) CreateItem(c *gin.Context) {
	var req ItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FailWithBind(c, err)
		return
	}

	item, err := h.svc.CreateItem(c.Request.Context(), req.toModel(""))
	if err != nil {
		response.FailWithError(c, err)
		return
	}
	response.OK(c, item)
}

// UpdateItem updates a knowledge item and re-indexes it.
func (h *KnowledgeHandler) UpdateItem(c *gin.Context) {
	var req ItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FailWithBind(c, err)
		return
	}

	item, err := h.svc.UpdateItem(c.Request.Context(), req.toModel(c.Param("id")))
	if err != nil {
		response.FailWithError(c, err)
		return
	}
	response.OK(c, item)
}

// DeleteItem removes a knowledge item, its embedding records and its index
// entry.
func (h *KnowledgeHandler) DeleteItem(c *gin.Context) {
	if err := h.svc.DeleteItem(c.Request.Context(), c.Param("id")); err != nil {
		response.FailWithError(c, err)
		return
	}
	response.OK(c, gin.H{"id": c.Param("id")})
}

// GetItem returns one knowledge item.
func (h *KnowledgeHandler) GetItem(c *gin.Context) {
	item, err := h.svc.GetItem(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.FailWithError(c, err)
		return
	}
	response.OK(c, item)
}

// ListItems lists knowledge items with optional filters and pagination.
func (h *KnowledgeHandler) ListItems(c *gin.Context) {
	filter := &store.ItemFilter{
		Category: c.Query("category"),
		Language: model.ParseLanguage(c.Query("language")),
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "page_size", 20),
	}
	if v := c.Query("needs_review"); v != "" {
		needs := v == "true" || v == "1"
		filter.NeedsReview = &needs
	}

	items, total, err := h.svc.ListItems(c.Request.Context(), filter)
	if err != nil {
		response.FailWithError(c, err)
		return
	}
	response.PageOK(c, items, total, filter.Page, filter.PageSize)
}

// Stats reports knowledge base statistics.
func (h *KnowledgeHandler) Stats(c *gin.Context) {
	stats, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		response.FailWithError(c, err)
		return
	}
	response.OK(c, stats)
}

// SearchRequest is the body for similarity search.
type SearchRequest struct {
	Text     string `json:"text" binding:"required"`
	K        int    `json:"k"`
	Category string `json:"category"`
	Language string `json:"language"`
	Tag      string `json:"tag"`
}

// Search runs a similarity search over indexed knowledge.
func (h *KnowledgeHandler) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FailWithBind(c, err)
		return
	}

	filter := &store.SearchFilter{
		Category: req.Category,
		Language: model.ParseLanguage(req.Language),
		Tag:      req.Tag,
	}
	matches, err := h.svc.SearchSimilarItems(c.Request.Context(), req.Text, filter, req.K)
	if err != nil {
		response.FailWithError(c, err)
		return
	}
	response.OK(c, matches)
}

// OrganizeItem suggests category and tags for one item.
func (h *KnowledgeHandler) OrganizeItem(c *gin.Context) {
	result, err := h.svc.OrganizeItem(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.FailWithError(c, err)
		return
	}
	response.OK(c, result)
}

// OrganizeBatchRequest bounds a batch organization pass.
type OrganizeBatchRequest struct {
	Limit int `json:"limit"`
}

// OrganizeBatch suggests organization for items flagged for review.
func (h *KnowledgeHandler) OrganizeBatch(c *gin.Context) {
	var req OrganizeBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FailWithBind(c, err)
		return
	}

	results, err := h.svc.OrganizeBatch(c.Request.Context(), req.Limit)
	if err != nil {
		response.FailWithError(c, err)
		return
	}
	response.OK(c, results)
}

// ApplyOrganizationRequest carries accepted organization suggestions.
type ApplyOrganizationRequest struct {
	Results []*model.OrganizationResult `json:"results" binding:"required"`
}

// ApplyOrganization applies accepted suggestions to the stored items.
func (h *KnowledgeHandler) ApplyOrganization(c *gin.Context) {
	var req ApplyOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FailWithBind(c, err)
		return
	}

	applied, err := h.svc.ApplyOrganization(c.Request.Context(), req.Results)
	if err != nil {
		response.FailWithError(c, err)
		return
	}
	response.OK(c, gin.H{"applied": applied})
}

// GraphRequest bounds graph construction.
type GraphRequest struct {
	MinSimilarity float64 `json:"min_similarity"`
}

// BuildGraph builds the knowledge similarity graph.
func (h *KnowledgeHandler) BuildGraph(c *gin.Context) {
	var req GraphRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FailWithBind(c, err)
		return
	}

	graph, err := h.graph.BuildGraph(c.Request.Context(), req.MinSimilarity)
	if err != nil {
		response.FailWithError(c, err)
		return
	}
	response.OK(c, graph)
}

// AnalyzeStructure builds the graph and reports duplicates, isolated items
// and coverage gaps.
func (h *KnowledgeHandler) AnalyzeStructure(c *gin.Context) {
	var req GraphRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FailWithBind(c, err)
		return
	}

	ctx := c.Request.Context()
	graph, err := h.graph.BuildGraph(ctx, req.MinSimilarity)
	if err != nil {
		response.FailWithError(c, err)
		return
	}

	report, err := h.graph.AnalyzeStructure(ctx, graph)
	if err != nil {
		response.FailWithError(c, err)
		return
	}
	response.OK(c, report)
}

// EmbedItem regenerates the embedding for one item.
func (h *KnowledgeHandler) EmbedItem(c *gin.Context) {
	record, err := h.svc.GenerateEmbeddingForItem(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.FailWithError(c, err)
		return
	}
	response.OK(c, record)
}

// EmbedTextRequest is the body for ad-hoc text embedding.
type EmbedTextRequest struct {
	Text string `json:"text" binding:"required"`
}

// EmbedTextResponse carries an ad-hoc embedding.
type EmbedTextResponse struct {
	Vector       []float32 `json:"vector"`
	Dimension    int       `json:"dimension"`
	ModelVersion string    `json:"model_version"`
}

// EmbedText embeds an arbitrary text without persisting anything.
func (h *KnowledgeHandler) EmbedText(c *gin.Context) {
	var req EmbedTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FailWithBind(c, err)
		return
	}

	vector, version, err := h.svc.GenerateEmbeddingForText(c.Request.Context(), req.Text)
	if err != nil {
		response.FailWithError(c, err)
		return
	}
	response.OK(c, EmbedTextResponse{
		Vector:       vector,
		Dimension:    len(vector),
		ModelVersion: version,
	})
}

// Regenerate starts a batch embedding regeneration job.
func (h *KnowledgeHandler) Regenerate(c *gin.Context) {
	job, err := h.regen.BatchRegenerate(c.Request.Context())
	if err != nil {
		response.FailWithError(c, err)
		return
	}
	response.OK(c, job)
}

// RegenJob returns the status of one regeneration job.
func (h *KnowledgeHandler) RegenJob(c *gin.Context) {
	job, err := h.regen.JobStatus(c.Param("id"))
	if err != nil {
		response.FailWithError(c, err)
		return
	}
	response.OK(c, job)
}

// RegenJobs lists regeneration jobs, newest first.
func (h *KnowledgeHandler) RegenJobs(c *gin.Context) {
	response.OK(c, h.regen.Jobs())
}

func queryInt(c *gin.Context, key string, fallback int) int {
	v := c.Query(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
