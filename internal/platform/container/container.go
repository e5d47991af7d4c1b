package container

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jinford/study-rag/internal/core/answer"
	"github.com/jinford/study-rag/internal/core/conversation"
	"github.com/jinford/study-rag/internal/core/document"
	"github.com/jinford/study-rag/internal/core/retrieval"
	"github.com/jinford/study-rag/internal/infra/memstore"
	"github.com/jinford/study-rag/internal/infra/ollama"
	"github.com/jinford/study-rag/internal/infra/openai"
	"github.com/jinford/study-rag/internal/infra/postgres"
	"github.com/jinford/study-rag/internal/infra/postgres/sqlc"
	"github.com/jinford/study-rag/internal/infra/tokenizer"
	"github.com/jinford/study-rag/internal/platform/config"
	"github.com/jinford/study-rag/internal/platform/database"
	"github.com/jinford/study-rag/internal/platform/metrics"
)

// Embedder はドキュメント登録と検索の両方で使う Embedding 生成器
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// store はバックエンドごとのリポジトリ実装
type store interface {
	document.Repository
	retrieval.Store
}

// ServiceContainer はアプリケーションの依存関係を保持する
type ServiceContainer struct {
	DocumentService     *document.Service
	ConversationService *conversation.Service
	Retriever           *retrieval.Retriever
	Generator           *answer.Generator
	Metrics             *metrics.Metrics

	config   *config.Config
	logger   *slog.Logger
	database *database.DB
}

type containerOptions struct {
	logger      *slog.Logger
	embedder    Embedder
	modelClient answer.ModelClient
	metrics     *metrics.Metrics
}

// ContainerOption は ServiceContainer 構築時のオプション
type ContainerOption func(*containerOptions)

// WithContainerLogger はロガーを差し替える
func WithContainerLogger(logger *slog.Logger) ContainerOption {
	return func(opts *containerOptions) {
		opts.logger = logger
	}
}

// WithContainerEmbedder はカスタム Embedder を注入する
func WithContainerEmbedder(embedder Embedder) ContainerOption {
	return func(opts *containerOptions) {
		opts.embedder = embedder
	}
}

// WithContainerModelClient は生成用の LLM クライアントを差し替える
func WithContainerModelClient(client answer.ModelClient) ContainerOption {
	return func(opts *containerOptions) {
		opts.modelClient = client
	}
}

// WithContainerMetrics はメトリクスを差し替える
func WithContainerMetrics(m *metrics.Metrics) ContainerOption {
	return func(opts *containerOptions) {
		opts.metrics = m
	}
}

// NewContainer は設定からコンテナを生成する。
// DOCUMENT_STORE=postgres の場合はデータベースに接続し、スキーマを適用する
func NewContainer(ctx context.Context, cfg *config.Config, opts ...ContainerOption) (*ServiceContainer, error) {
	if cfg.Store.Backend == "memory" {
		return NewContainerWithDB(cfg, nil, opts...)
	}

	db, err := database.New(ctx, database.ConnectionParams{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return nil, fmt.Errorf("データベース初期化に失敗しました: %w", err)
	}

	if err := postgres.ApplySchema(ctx, db.Pool); err != nil {
		db.Close()
		return nil, fmt.Errorf("スキーマ適用に失敗しました: %w", err)
	}

	c, err := NewContainerWithDB(cfg, db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// NewContainerWithDB は既存の DB を受け取りコンテナを生成する。db が nil の場合はメモリストアを使う
func NewContainerWithDB(cfg *config.Config, db *database.DB, opts ...ContainerOption) (*ServiceContainer, error) {
	options := containerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	logger := options.logger

	m := options.metrics
	if m == nil {
		m = metrics.New()
	}

	// 検索時のクエリ Embedding は再試行せず、失敗したら Fallback Tier に進む
	embedder, queryEmbedder := options.embedder, options.embedder
	if embedder == nil {
		var err error
		embedder, err = newEmbedder(cfg, openai.MaxRetries)
		if err != nil {
			return nil, fmt.Errorf("Embedder 初期化に失敗しました: %w", err)
		}
		queryEmbedder, err = newEmbedder(cfg, 0)
		if err != nil {
			return nil, fmt.Errorf("Embedder 初期化に失敗しました: %w", err)
		}
	}

	modelClient := options.modelClient
	if modelClient == nil {
		client, err := openai.NewClient(cfg.OpenAI.APIKey, openai.WithBaseURL(cfg.OpenAI.BaseURL))
		if err != nil {
			return nil, fmt.Errorf("OpenAI クライアント初期化に失敗しました: %w", err)
		}
		modelClient = client
	}

	// Repository (PostgreSQL / memory)
	var (
		docs       store
		convRepo   conversation.Repository
		transactor conversation.Transactor
	)
	if db != nil {
		queries := sqlc.New(db.Pool)
		docs = postgres.NewDocumentRepository(queries)
		convRepo = postgres.NewConversationRepository(queries)
		transactor = database.NewTransactionProvider(db.Pool)

		if err := db.VectorExtensionReady(context.Background()); err != nil {
			logger.Warn("pgvector extension is not available", "error", err)
		}
	} else {
		docStore, err := memstore.NewDocumentStore()
		if err != nil {
			return nil, fmt.Errorf("メモリストア初期化に失敗しました: %w", err)
		}
		convStore := memstore.NewConversationStore()
		docs = docStore
		convRepo = convStore
		transactor = convStore
		logger.Warn("using in-memory document store; data is lost on exit")
	}

	tokenCounter, err := tokenizer.NewCounter()
	if err != nil {
		logger.Warn("tiktoken encoding unavailable, falling back to estimation", "error", err)
		tokenCounter = tokenizer.NewEstimator()
	}

	retriever := retrieval.NewRetriever(docs, queryEmbedder,
		retrieval.WithRetrieverLogger(logger),
		retrieval.WithTierObserver(m),
	)

	generator := answer.NewGenerator(modelClient, cfg.Generation.Models,
		answer.WithGeneratorLogger(logger),
		answer.WithTemperature(cfg.Generation.Temperature),
		answer.WithAttemptTimeout(cfg.Generation.Timeout),
		answer.WithContextBudget(tokenCounter, cfg.Generation.ContextTokens),
		answer.WithGeneratorObserver(m),
	)

	conversationService := conversation.NewService(convRepo, retriever, generator,
		conversation.WithConversationLogger(logger),
		conversation.WithTransactor(transactor),
		conversation.WithTokenCounter(tokenCounter),
		conversation.WithMaxResults(cfg.Retrieval.MaxResults),
	)

	documentService := document.NewService(docs, embedder, document.WithDocumentLogger(logger))

	return &ServiceContainer{
		DocumentService:     documentService,
		ConversationService: conversationService,
		Retriever:           retriever,
		Generator:           generator,
		Metrics:             m,
		config:              cfg,
		logger:              logger,
		database:            db,
	}, nil
}

func newEmbedder(cfg *config.Config, maxRetries int) (Embedder, error) {
	switch cfg.Embedding.Provider {
	case "ollama":
		return ollama.NewEmbedder(cfg.Embedding.OllamaURL, cfg.Embedding.OllamaModel, cfg.Embedding.Dimension)
	default:
		return openai.NewEmbedder(
			cfg.OpenAI.APIKey,
			openai.WithEmbeddingModel(cfg.OpenAI.EmbeddingModel),
			openai.WithEmbeddingDimension(cfg.Embedding.Dimension),
			openai.WithEmbeddingBaseURL(cfg.OpenAI.BaseURL),
			openai.WithEmbeddingMaxRetries(maxRetries),
		)
	}
}

// NewBackfillJob は設定に従ってEmbeddingバックフィルジョブを作成する。
// batchSize が0以下の場合は EMBEDDING_BACKFILL_BATCH を使う
func (c *ServiceContainer) NewBackfillJob(batchSize int) *document.BackfillJob {
	if batchSize <= 0 {
		batchSize = c.config.Jobs.BackfillBatch
	}
	jobConfig := document.BackfillJobConfig{
		CronSchedule: c.config.Jobs.BackfillSchedule,
		BatchSize:    batchSize,
	}
	if c.database != nil {
		jobConfig.Locker = database.NewAdvisoryLocker(c.database.Pool)
	}
	return document.NewBackfillJob(jobConfig, c.DocumentService, c.logger)
}

// Health はストアへの疎通を確認する
func (c *ServiceContainer) Health(ctx context.Context) error {
	if c.database == nil {
		return nil
	}
	return c.database.Pool.Ping(ctx)
}

// Close は内部リソースを解放する。
func (c *ServiceContainer) Close() {
	if c != nil && c.database != nil {
		c.database.Close()
	}
}

// Logger はロガーを返す。
func (c *ServiceContainer) Logger() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// Config は設定を返す。
func (c *ServiceContainer) Config() *config.Config {
	return c.config
}
