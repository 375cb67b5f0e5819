// Package handler provides the HTTP handlers for the reply service.
package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/kart-io/reply-x/internal/model"
	"github.com/kart-io/reply-x/internal/replyd/biz"
	"github.com/kart-io/reply-x/pkg/errors"
	"github.com/kart-io/reply-x/pkg/response"
)

// PrincipalHeader carries the opaque caller identity. The service never
// interprets it beyond attribution.
const PrincipalHeader = "X-Principal"

// ReplyHandler handles reply pipeline and analysis requests.
type ReplyHandler struct {
	composer   *biz.ReplyComposer
	analyzer   *biz.Analyzer
	summarizer *biz.Summarizer
	learning   *biz.LearningEngine
	messageLog *biz.InMemoryMessageLog
}

// NewReplyHandler creates a ReplyHandler.
func NewReplyHandler(
	composer *biz.ReplyComposer,
	analyzer *biz.Analyzer,
	summarizer *biz.Summarizer,
	learning *biz.LearningEngine,
	messageLog *biz.InMemoryMessageLog,
) *ReplyHandler {
	return &ReplyHandler{
		composer:   composer,
		analyzer:   analyzer,
		summarizer: summarizer,
		learning:   learning,
		messageLog: messageLog,
	}
}

// EnhancedReplyRequest asks for a reply in the customer's own language.
type EnhancedReplyRequest struct {
	Query      string `json:"query" binding:"required"`
	CustomerID string `json:"customer_id"`
}

// customerID resolves the effective customer identity: explicit body field
// first, then the principal header.
func customerID(c *gin.Context, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return c.GetHeader(PrincipalHeader)
}

// EnhancedReply runs the full reply pipeline for a customer query.
func (h *ReplyHandler) EnhancedReply(c *gin.Context) {
	var req EnhancedReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FailWithBind(c, err)
		return
	}

	customer := customerID(c, req.CustomerID)
	h.messageLog.Append(customer, req.Query)

	result, err := h.composer.GenerateEnhancedReply(c.Request.Context(), req.Query, customer)
	if err != nil {
		response.FailWithError(c, err)
		return
	}
	sendReply(c, result)
}

// sendReply flags degraded pipelines with the partial-result warning code;
// the reply itself is still delivered.
func sendReply(c *gin.Context, result *model.ReplyResult) {
	if len(result.Metadata.DegradedSignals) > 0 {
		response.Warn(c, errors.ErrPartialResult, result)
		return
	}
	response.OK(c, result)
}

// MultilingualReplyRequest asks for a reply translated into a target
// language.
type MultilingualReplyRequest struct {
	Query          string `json:"query" binding:"required"`
	CustomerID     string `json:"customer_id"`
	TargetLanguage string `json:"target_language" binding:"required"`
}

// MultilingualReply runs the pipeline and translates the reply.
func (h *ReplyHandler) MultilingualReply(c *gin.Context) {
	var req MultilingualReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FailWithBind(c, err)
		return
	}

	customer := customerID(c, req.CustomerID)
	h.messageLog.Append(customer, req.Query)

	result, err := h.composer.GenerateMultilingualReply(
		c.Request.Context(), req.Query, customer, model.Language(req.TargetLanguage))
	if err != nil {
		response.FailWithError(c, err)
		return
	}
	sendReply(c, result)
}

// AdjustRequest rewrites an existing reply for sentiment and/or intent.
type AdjustRequest struct {
	Reply     string `json:"reply" binding:"required"`
	Sentiment string `json:"sentiment"`
	Intent    string `json:"intent"`
}

// AdjustResponse carries the rewritten reply.
type AdjustResponse struct {
	Reply string `json:"reply"`
}

// Adjust applies sentiment and intent adjustments to a reply. The two
// adjustments are independent; when both are requested they are applied in
// sequence.
func (h *ReplyHandler) Adjust(c *gin.Context) {
	var req AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FailWithBind(c, err)
		return
	}
	if req.Sentiment == "" && req.Intent == "" {
		response.Fail(c, errors.ErrValidation.WithMessage("sentiment or intent is required"))
		return
	}

	ctx := c.Request.Context()
	reply := req.Reply
	var err error

	if req.Sentiment != "" {
		if reply, err = h.composer.AdjustBySentiment(ctx, reply, req.Sentiment); err != nil {
			response.FailWithError(c, err)
			return
		}
	}
	if req.Intent != "" {
		if reply, err = h.composer.AdjustByIntent(ctx, reply, req.Intent); err != nil {
			response.FailWithError(c, err)
			return
		}
	}
	response.OK(c, AdjustResponse{Reply: reply})
}

// TranslateRequest renders a reply into a target language.
type TranslateRequest struct {
	Reply          string `json:"reply" binding:"required"`
	TargetLanguage string `json:"target_language" binding:"required"`
}

// Translate translates an existing reply.
func (h *ReplyHandler) Translate(c *gin.Context) {
	var req TranslateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FailWithBind(c, err)
		return
	}

	out, err := h.composer.Translate(c.Request.Context(), req.Reply, model.Language(req.TargetLanguage))
	if err != nil {
		response.FailWithError(c, err)
		return
	}
	response.OK(c, AdjustResponse{Reply: out})
}

// AnalyzeRequest is the shared request shape for the analysis endpoints.
type AnalyzeRequest struct {
	Text     string `json:"text" binding:"required"`
	Language string `json:"language"`
}

// DetectLanguage classifies the language of a text.
func (h *ReplyHandler) DetectLanguage(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FailWithBind(c, err)
		return
	}

	signal, err := h.analyzer.DetectLanguage(c.Request.Context(), req.Text)
	if err != nil {
		response.FailWithError(c, err)
		return
	}
	response.OK(c, signal)
}

// AnalyzeSentiment classifies the sentiment of a text.
func (h *ReplyHandler) AnalyzeSentiment(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FailWithBind(c, err)
		return
	}

	signal, err := h.analyzer.AnalyzeSentiment(c.Request.Context(), req.Text, model.ParseLanguage(req.Language))
	if err != nil {
		response.FailWithError(c, err)
		return
	}
	response.OK(c, signal)
}

// RecognizeIntent classifies the intent of a text and extracts entities.
func (h *ReplyHandler) RecognizeIntent(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FailWithBind(c, err)
		return
	}

	signal, err := h.analyzer.RecognizeIntent(c.Request.Context(), req.Text, model.ParseLanguage(req.Language))
	if err != nil {
		response.FailWithError(c, err)
		return
	}
	response.OK(c, signal)
}

// SummarizeConversation summarizes a customer's recent messages.
func (h *ReplyHandler) SummarizeConversation(c *gin.Context) {
	customer := c.Param("customer_id")
	if customer == "" {
		customer = c.GetHeader(PrincipalHeader)
	}

	summary, err := h.summarizer.SummarizeConversation(c.Request.Context(), customer)
	if err != nil {
		response.FailWithError(c, err)
		return
	}
	response.OK(c, summary)
}

// SummarizeRequest asks for a conversation summary by customer.
type SummarizeRequest struct {
	CustomerID string `json:"customer_id"`
}

// Summarize is the body-based variant of SummarizeConversation.
func (h *ReplyHandler) Summarize(c *gin.Context) {
	var req SummarizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FailWithBind(c, err)
		return
	}

	summary, err := h.summarizer.SummarizeConversation(c.Request.Context(), customerID(c, req.CustomerID))
	if err != nil {
		response.FailWithError(c, err)
		return
	}
	response.OK(c, summary)
}

// LearnRequest submits a human-corrected reply for learning.
type LearnRequest struct {
	Query         string `json:"query" binding:"required"`
	OriginalReply string `json:"original_reply" binding:"required"`
	HumanReply    string `json:"human_reply" binding:"required"`
}

// Learn extracts learning points from a human correction.
func (h *ReplyHandler) Learn(c *gin.Context) {
	var req LearnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FailWithBind(c, err)
		return
	}

	sample, err := h.learning.Learn(c.Request.Context(), req.Query, req.OriginalReply, req.HumanReply)
	if err != nil {
		response.FailWithError(c, err)
		return
	}
	response.OK(c, sample)
}

// ListSamples lists stored learning samples, newest first.
func (h *ReplyHandler) ListSamples(c *gin.Context) {
	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "page_size", 20)

	samples, total, err := h.learning.Samples(c.Request.Context(), page, pageSize)
	if err != nil {
		response.FailWithError(c, err)
		return
	}
	response.PageOK(c, samples, total, page, pageSize)
}
