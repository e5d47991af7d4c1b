package answer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jinford/study-rag/internal/core/retrieval"
)

const (
	// DefaultTemperature は生成時の温度
	DefaultTemperature = 0.4

	// DefaultAttemptTimeout は1モデルあたりの試行タイムアウト
	DefaultAttemptTimeout = 45 * time.Second
)

// 試行結果のラベル
const (
	OutcomeSuccess          = "success"
	OutcomeProviderError    = "provider_error"
	OutcomeTimeout          = "timeout"
	OutcomeSchemaValidation = "schema_validation"
)

// StructuredRequest はスキーマ制約付き生成のリクエスト
type StructuredRequest struct {
	Model        string
	SystemPrompt string
	Messages     []ChatMessage
	SchemaName   string
	Schema       map[string]any
	Temperature  float64
}

// Completion はモデルの生出力
type Completion struct {
	Content string
	Model   string
	// TokensUsed は使用量が報告されなかった場合 nil
	TokensUsed *int
}

// StreamChunk はストリーミング出力の差分
type StreamChunk struct {
	Delta      string
	TokensUsed *int
}

// CompletionStream はストリーミング出力のイテレータ
type CompletionStream interface {
	Next() bool
	Chunk() StreamChunk
	Err() error
	Close() error
}

// ModelClient はスキーマ制約付き生成を行うLLMクライアント
type ModelClient interface {
	GenerateStructured(ctx context.Context, req StructuredRequest) (*Completion, error)
	StreamStructured(ctx context.Context, req StructuredRequest) (CompletionStream, error)
}

// Observer は生成と補正の結果を受け取る（メトリクス用）
type Observer interface {
	ReconcileObserver
	ObserveGenerationAttempt(model, outcome string)
	ObserveGenerationFallback()
}

// GenerateParams は生成パラメータ
type GenerateParams struct {
	UserMessage string
	History     []HistoryMessage
	Documents   []retrieval.RetrievedDocument
}

// Generator はモデルのフォールバックチェーンで構造化回答を生成する
type Generator struct {
	client         ModelClient
	models         []string
	temperature    float64
	attemptTimeout time.Duration
	budget         ContextBudget
	observer       Observer
	logger         *slog.Logger
}

type GeneratorOption func(*Generator)

// WithGeneratorLogger は Generator にロガーを設定する
func WithGeneratorLogger(logger *slog.Logger) GeneratorOption {
	return func(g *Generator) {
		g.logger = logger
	}
}

// WithTemperature は生成温度を設定する
func WithTemperature(temperature float64) GeneratorOption {
	return func(g *Generator) {
		g.temperature = temperature
	}
}

// WithAttemptTimeout は1モデルあたりの試行タイムアウトを設定する
func WithAttemptTimeout(timeout time.Duration) GeneratorOption {
	return func(g *Generator) {
		if timeout > 0 {
			g.attemptTimeout = timeout
		}
	}
}

// WithContextBudget はドキュメント本文の合計トークン上限を設定する
func WithContextBudget(counter TokenCounter, maxTokens int) GeneratorOption {
	return func(g *Generator) {
		g.budget = ContextBudget{Counter: counter, MaxTokens: maxTokens}
	}
}

// WithGeneratorObserver はメトリクスの通知先を設定する
func WithGeneratorObserver(observer Observer) GeneratorOption {
	return func(g *Generator) {
		g.observer = observer
	}
}

// NewGenerator は models を優先順に試す Generator を作成する
func NewGenerator(client ModelClient, models []string, opts ...GeneratorOption) *Generator {
	g := &Generator{
		client:         client,
		models:         models,
		temperature:    DefaultTemperature,
		attemptTimeout: DefaultAttemptTimeout,
		logger:         slog.Default(),
	}

	for _, opt := range opts {
		opt(g)
	}

	if g.logger == nil {
		g.logger = slog.Default()
	}

	return g
}

// Models はフォールバックチェーンのモデルを優先順に返す
func (g *Generator) Models() []string {
	return append([]string(nil), g.models...)
}

// Generate は構造化回答を生成する。
// モデル出力は docs と突き合わせて補正済みの状態で返す。
// すべてのモデルが失敗した場合は FallbackResponse を返し、エラーは返さない
func (g *Generator) Generate(ctx context.Context, params GenerateParams) *Result {
	req := g.baseRequest(params)

	for _, model := range g.models {
		if ctx.Err() != nil {
			break
		}

		result, err := g.attempt(ctx, req, model)
		if err != nil {
			g.recordFailure(model, err)
			continue
		}

		g.observeAttempt(model, OutcomeSuccess)
		return g.reconciled(result, params.Documents)
	}

	return g.fallback(params.Documents)
}

// reconciled はモデル出力の出典とメタデータを検索結果に合わせて補正する
func (g *Generator) reconciled(result *Result, docs []retrieval.RetrievedDocument) *Result {
	var observer ReconcileObserver
	if g.observer != nil {
		observer = g.observer
	}
	result.Response = reconcile(result.Response, docs, observer)
	return result
}

func (g *Generator) attempt(ctx context.Context, req StructuredRequest, model string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, g.attemptTimeout)
	defer cancel()

	req.Model = model
	completion, err := g.client.GenerateStructured(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := DecodeResponse(completion.Content)
	if err != nil {
		return nil, err
	}

	usedModel := completion.Model
	if usedModel == "" {
		usedModel = model
	}

	return &Result{
		Response:   *resp,
		Model:      usedModel,
		TokensUsed: completion.TokensUsed,
	}, nil
}

func (g *Generator) baseRequest(params GenerateParams) StructuredRequest {
	return StructuredRequest{
		SystemPrompt: BuildSystemPromptWithBudget(params.Documents, g.budget),
		Messages:     BuildMessages(params.History, params.UserMessage),
		SchemaName:   SchemaName,
		Schema:       ResponseSchema(),
		Temperature:  g.temperature,
	}
}

func (g *Generator) fallback(docs []retrieval.RetrievedDocument) *Result {
	g.logger.Error("all generation models failed, returning fallback response",
		"models", g.models,
		"documents", len(docs),
	)
	if g.observer != nil {
		g.observer.ObserveGenerationFallback()
	}

	return &Result{
		Response: FallbackResponse(docs),
		Fallback: true,
	}
}

func (g *Generator) recordFailure(model string, err error) {
	outcome := classifyFailure(err)
	g.logger.Warn("generation attempt failed, trying next model",
		"model", model,
		"outcome", outcome,
		"error", err,
	)
	g.observeAttempt(model, outcome)
}

func (g *Generator) observeAttempt(model, outcome string) {
	if g.observer != nil {
		g.observer.ObserveGenerationAttempt(model, outcome)
	}
}

func classifyFailure(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	case errors.Is(err, ErrSchemaValidation), errors.Is(err, ErrEmptyCompletion):
		return OutcomeSchemaValidation
	default:
		return OutcomeProviderError
	}
}
