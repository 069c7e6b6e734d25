package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hyperjump/guidechat/internal/chat"
	"github.com/hyperjump/guidechat/internal/config"
	"github.com/hyperjump/guidechat/internal/embedding"
	"github.com/hyperjump/guidechat/internal/history"
	"github.com/hyperjump/guidechat/internal/indexer"
	"github.com/hyperjump/guidechat/internal/llm"
	"github.com/hyperjump/guidechat/internal/metrics"
	"github.com/hyperjump/guidechat/internal/provider"
	"github.com/hyperjump/guidechat/internal/search"
	"github.com/hyperjump/guidechat/internal/storage"
	"github.com/hyperjump/guidechat/internal/vector"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Components holds initialized services.
type Components struct {
	Config       *config.Config
	Storage      storage.Storage
	Vectors      vector.Store
	Embedder     embedding.Embedder
	Model        llm.ChatModel
	Retriever    *search.Retriever
	History      *history.Service
	Orchestrator *chat.Orchestrator
	Indexer      *indexer.Indexer
	Registry     *prometheus.Registry

	pool     *pgxpool.Pool
	redis    *redis.Client
	logger   *zap.Logger
	snapshot string
}

// Close saves the memory vector snapshot and releases every connection.
func (c *Components) Close() {
	if mem, ok := c.Vectors.(*vector.MemoryStore); ok && c.snapshot != "" {
		if err := mem.Save(c.snapshot); err != nil {
			c.logger.Warn("vector snapshot save failed", zap.String("path", c.snapshot), zap.Error(err))
		}
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Vectors != nil {
		_ = c.Vectors.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
	if c.pool != nil {
		c.pool.Close()
	}
	if c.redis != nil {
		_ = c.redis.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *Components, err error) {
	c := &Components{Config: cfg, logger: logger}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	c.Registry = prometheus.NewRegistry()
	c.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(c.Registry)

	var backends vector.Backends
	switch cfg.Storage.Driver {
	case "postgres":
		dsn := cfg.Storage.DSN()
		if dsn == "" {
			return nil, fmt.Errorf("postgres dsn is empty; set %s", cfg.Storage.DSNEnv)
		}
		c.pool, err = storage.NewPostgresPool(ctx, dsn, cfg.Storage.MaxConns)
		if err != nil {
			return nil, err
		}
		c.Storage, err = storage.NewPostgresStorage(ctx, c.pool)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		backends.Postgres = c.pool
	default:
		sqlite, openErr := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
		if openErr != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", openErr)
		}
		c.Storage = sqlite
		backends.SQLite = sqlite.DB()
	}

	c.Vectors, err = vector.NewStore(ctx, cfg.Vector.Type, cfg.Embedding.Dimensions, backends)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}
	if mem, ok := c.Vectors.(*vector.MemoryStore); ok && cfg.Vector.SnapshotPath != "" {
		if loadErr := mem.Load(cfg.Vector.SnapshotPath); loadErr != nil {
			logger.Warn("vector snapshot load skipped (reindex guides to rebuild)",
				zap.String("path", cfg.Vector.SnapshotPath), zap.Error(loadErr))
		}
	}
	logger.Info("vector store initialized",
		zap.String("type", cfg.Vector.Type),
		zap.Int("dimensions", c.Vectors.Dimensions()))

	c.Embedder, err = newEmbedder(cfg.Embedding, m, logger)
	if err != nil {
		return nil, err
	}
	if err := embedding.CheckDimensions(c.Embedder, c.Vectors.Dimensions()); err != nil {
		return nil, err
	}

	c.Model, err = newChatModel(cfg.LLM)
	if err != nil {
		return nil, err
	}

	if cfg.Redis.Addr != "" {
		c.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password(),
			DB:       cfg.Redis.DB,
		})
	}
	var redisClient redis.UniversalClient
	if c.redis != nil {
		redisClient = c.redis
	}
	locker, err := chat.NewSessionLocker(cfg.Chat.SessionLock, redisClient, cfg.Chat.SessionLockTTL)
	if err != nil {
		return nil, err
	}

	systemPrompt := ""
	if cfg.Chat.SystemPromptFile != "" {
		b, readErr := os.ReadFile(cfg.Chat.SystemPromptFile)
		if readErr != nil {
			return nil, fmt.Errorf("read system prompt: %w", readErr)
		}
		systemPrompt = string(b)
	}

	c.Retriever = search.NewRetriever(c.Embedder, c.Vectors, cfg.Retrieval.Scoring.Policy(),
		cfg.Retrieval.DefaultLimit, cfg.Retrieval.MaxLimit)
	c.History = history.NewService(c.Storage)
	c.Orchestrator = chat.NewOrchestrator(c.Storage, c.Retriever, c.History, c.Model, chat.Config{
		MaxMessageLength: cfg.Chat.MaxMessageLength,
		HistoryLimit:     cfg.Chat.HistoryLimit,
		ContextLimit:     cfg.Chat.ContextLimit,
		SystemPrompt:     systemPrompt,
	}, chat.WithLogger(logger), chat.WithMetrics(m), chat.WithLocker(locker))
	c.Indexer = indexer.NewIndexer(c.Storage, c.Embedder, c.Vectors,
		indexer.WithLogger(logger), indexer.WithMetrics(m))
	c.snapshot = cfg.Vector.SnapshotPath
	return c, nil
}

func newEmbedder(cfg config.EmbeddingConfig, m *metrics.Metrics, logger *zap.Logger) (embedding.Embedder, error) {
	var inner embedding.Embedder
	switch cfg.Provider {
	case "mock":
		inner = embedding.NewMockEmbedder(cfg.Dimensions)
	default:
		key := cfg.APIKey()
		if key == "" {
			return nil, fmt.Errorf("embedding api key is empty; set %s", cfg.APIKeyEnv)
		}
		inner = embedding.NewOpenAIEmbedder(
			provider.NewOpenAIClient(key, cfg.BaseURL),
			cfg.Model,
			cfg.Dimensions,
			embedding.WithLogger(logger),
			embedding.WithBatchSize(cfg.BatchSize),
			embedding.WithTimeout(cfg.Timeout),
			embedding.WithFallbackHook(m.EmbeddingFallback),
		)
	}
	if cfg.CacheSize > 0 {
		return embedding.NewCachedEmbedder(inner, cfg.CacheSize), nil
	}
	return inner, nil
}

func newChatModel(cfg config.LLMConfig) (llm.ChatModel, error) {
	if cfg.Provider == "mock" {
		return llm.NewMockModel(), nil
	}
	key := cfg.APIKey()
	if key == "" {
		return nil, fmt.Errorf("llm api key is empty; set %s", cfg.APIKeyEnv)
	}
	return llm.NewOpenAIModel(provider.NewOpenAIClient(key, cfg.BaseURL), llm.OpenAIModelConfig{
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.Timeout,
	}), nil
}
