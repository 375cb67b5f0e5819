// Package router wires the HTTP routes for the reply service.
package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kart-io/logger"

	"github.com/kart-io/reply-x/internal/replyd/handler"
	"github.com/kart-io/reply-x/pkg/response"
)

// New builds the gin engine with all routes registered.
func New(mode string, reply *handler.ReplyHandler, knowledge *handler.KnowledgeHandler) *gin.Engine {
	gin.SetMode(mode)

	engine := gin.New()
	engine.Use(gin.Recovery(), requestID(), accessLog())

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().Format(time.RFC3339)})
	})

	v1 := engine.Group("/v1")

	replies := v1.Group("/reply")
	{
		replies.POST("/enhanced", reply.EnhancedReply)
		replies.POST("/multilingual", reply.MultilingualReply)
		replies.POST("/adjust", reply.Adjust)
		replies.POST("/translate", reply.Translate)
	}

	analysis := v1.Group("/analysis")
	{
		analysis.POST("/language", reply.DetectLanguage)
		analysis.POST("/sentiment", reply.AnalyzeSentiment)
		analysis.POST("/intent", reply.RecognizeIntent)
		analysis.POST("/summary", reply.Summarize)
	}

	v1.GET("/conversations/:customer_id/summary", reply.SummarizeConversation)

	learning := v1.Group("/learning")
	{
		learning.POST("", reply.Learn)
		learning.GET("/samples", reply.ListSamples)
	}

	kb := v1.Group("/knowledge")
	{
		kb.POST("/items", knowledge.CreateItem)
		kb.GET("/items", knowledge.ListItems)
		kb.GET("/items/:id", knowledge.GetItem)
		kb.PUT("/items/:id", knowledge.UpdateItem)
		kb.DELETE("/items/:id", knowledge.DeleteItem)
		kb.GET("/stats", knowledge.Stats)
		kb.POST("/search", knowledge.Search)
		kb.POST("/organize", knowledge.OrganizeBatch)
		kb.POST("/organize/apply", knowledge.ApplyOrganization)
		kb.POST("/organize/:id", knowledge.OrganizeItem)
		kb.POST("/graph", knowledge.BuildGraph)
		kb.POST("/structure", knowledge.AnalyzeStructure)
	}

	embeddings := v1.Group("/embeddings")
	{
		embeddings.POST("/text", knowledge.EmbedText)
		embeddings.POST("/items/:id", knowledge.EmbedItem)
		embeddings.POST("/regenerate", knowledge.Regenerate)
		embeddings.GET("/jobs", knowledge.RegenJobs)
		embeddings.GET("/jobs/:id", knowledge.RegenJob)
	}

	return engine
}

// requestID assigns a request ID when the caller did not supply one, and
// echoes it back on the response.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(response.RequestIDKey)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(response.RequestIDKey, id)
		c.Header(response.RequestIDKey, id)
		c.Next()
	}
}

// accessLog logs one line per request with latency and status.
func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Infow("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"request_id", c.GetString(response.RequestIDKey),
			"client_ip", c.ClientIP(),
		)
	}
}
