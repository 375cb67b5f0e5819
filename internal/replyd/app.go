package replyd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/kart-io/logger"

	"github.com/kart-io/reply-x/internal/model"
	"github.com/kart-io/reply-x/internal/replyd/biz"
	"github.com/kart-io/reply-x/internal/replyd/handler"
	"github.com/kart-io/reply-x/internal/replyd/router"
	"github.com/kart-io/reply-x/internal/replyd/store"
	milvusclient "github.com/kart-io/reply-x/pkg/component/milvus"
	redisclient "github.com/kart-io/reply-x/pkg/component/redis"
	"github.com/kart-io/reply-x/pkg/llm"
	"github.com/kart-io/reply-x/pkg/pool"

	// Register LLM providers.
	_ "github.com/kart-io/reply-x/pkg/llm/ollama"
	_ "github.com/kart-io/reply-x/pkg/llm/openai"
)

// Name is the name of the application.
const Name = "replyd"

// Run starts the reply service and blocks until shutdown.
func Run(opts *Options) error {
	if err := opts.Log.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Infow("starting reply service", "addr", opts.HTTP.Addr, "vector_backend", opts.VectorBackend)

	db, err := store.OpenSQLite(opts.SQLite.Path)
	if err != nil {
		return fmt.Errorf("failed to open knowledge database: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil && opts.SQLite.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.SQLite.MaxOpenConns)
	}
	knowledgeStore, err := store.NewKnowledgeStore(db)
	if err != nil {
		return fmt.Errorf("failed to migrate knowledge database: %w", err)
	}

	index, err := newVectorIndex(opts)
	if err != nil {
		return err
	}
	defer func() { _ = index.Close(context.Background()) }()

	embedProvider, err := llm.NewProvider(opts.Embedding.Provider, opts.Embedding.ToConfigMap())
	if err != nil {
		return fmt.Errorf("failed to create embedding provider: %w", err)
	}
	chatProvider, err := llm.NewProvider(opts.Chat.Provider, opts.Chat.ToConfigMap())
	if err != nil {
		return fmt.Errorf("failed to create chat provider: %w", err)
	}
	analysis := llm.NewPromptAnalyzer(chatProvider)

	// Embedding calls go through retry plus a circuit breaker before any
	// cache tier sees them.
	resilientEmbed := llm.NewResilientEmbedder(embedProvider, nil, nil)

	embedding, closeRedis, err := newEmbeddingTier(opts, resilientEmbed)
	if err != nil {
		return err
	}
	defer closeRedis()
	cache := llm.NewEmbeddingCache(embedding, opts.Cache.Capacity)

	regenPool, err := pool.New("regen", pool.DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to create regeneration pool: %w", err)
	}
	defer regenPool.Release()
	backgroundPool, err := pool.New("background", pool.BackgroundConfig())
	if err != nil {
		return fmt.Errorf("failed to create background pool: %w", err)
	}
	defer backgroundPool.Release()

	analyzer := biz.NewAnalyzer(analysis, &biz.AnalyzerConfig{
		SignalTimeout:     opts.Reply.SignalTimeout,
		LanguageThreshold: opts.Reply.LanguageThreshold,
	})
	retriever := biz.NewKnowledgeRetriever(cache, index, &biz.RetrieverConfig{
		TopK:     opts.Reply.TopK,
		MinScore: opts.Reply.MinScore,
	})
	composer := biz.NewReplyComposer(analyzer, retriever, chatProvider, analysis, &biz.ComposerConfig{
		TopK:             opts.Reply.TopK,
		MinScore:         opts.Reply.MinScore,
		Deadline:         opts.Reply.Deadline,
		IntentThreshold:  opts.Reply.IntentThreshold,
		FallbackLanguage: model.ParseLanguage(opts.Reply.FallbackLanguage),
	})

	messageLog := biz.NewInMemoryMessageLog(opts.Reply.HistoryLimit * 4)
	summarizer := biz.NewSummarizer(analysis, messageLog, opts.Reply.HistoryLimit)
	learning := biz.NewLearningEngine(knowledgeStore, retriever, backgroundPool, nil)

	knowledge := biz.NewKnowledgeService(knowledgeStore, index, cache, chatProvider)
	graph := biz.NewGraphBuilder(knowledgeStore, cache.ModelVersion, nil, nil)
	regen := biz.NewRegenerator(knowledgeStore, index, embedding, regenPool, &biz.RegeneratorConfig{
		ItemTimeout: opts.Reply.RegenItemTimeout,
		JobTimeout:  opts.Reply.RegenJobTimeout,
	})

	// The in-memory index starts empty on every boot; repopulate it from
	// the persisted embedding records so retrieval works without a fresh
	// regeneration pass.
	if opts.VectorBackend == VectorBackendMemory {
		if loaded, err := regen.RebuildIndex(context.Background()); err != nil {
			logger.Warnw("vector index rebuild failed", "error", err.Error())
		} else if loaded > 0 {
			logger.Infow("vector index rebuilt from stored embeddings", "entries", loaded)
		}
	}

	replyHandler := handler.NewReplyHandler(composer, analyzer, summarizer, learning, messageLog)
	knowledgeHandler := handler.NewKnowledgeHandler(knowledge, graph, regen)
	engine := router.New(opts.HTTP.Mode, replyHandler, knowledgeHandler)

	srv := &http.Server{
		Addr:         opts.HTTP.Addr,
		Handler:      engine,
		ReadTimeout:  opts.HTTP.ReadTimeout,
		WriteTimeout: opts.HTTP.WriteTimeout,
		IdleTimeout:  opts.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("http server listening", "addr", opts.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down reply service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	logger.Info("reply service stopped")
	return nil
}

// newVectorIndex selects the vector index backend.
func newVectorIndex(opts *Options) (store.VectorIndex, error) {
	switch opts.VectorBackend {
	case VectorBackendMilvus:
		client, err := milvusclient.New(opts.Milvus)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to milvus: %w", err)
		}
		return store.NewMilvusIndex(client), nil
	default:
		return store.NewMemoryIndex(), nil
	}
}

// newEmbeddingTier optionally wraps the provider with the shared Redis cache
// tier.
func newEmbeddingTier(opts *Options, provider llm.EmbeddingProvider) (llm.EmbeddingProvider, func(), error) {
	if !opts.Cache.RedisEnabled {
		return provider, func() {}, nil
	}

	client, err := redisclient.New(opts.Cache.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	tier := llm.NewRedisEmbeddingCache(provider, client.Client(), opts.Cache.TTL).WithPrefix(opts.Cache.KeyPrefix)
	return tier, func() { _ = client.Close() }, nil
}
