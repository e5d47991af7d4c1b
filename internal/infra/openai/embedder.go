package openai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/openai/openai-go/v3"

	"github.com/jinford/study-rag/internal/core/document"
	"github.com/jinford/study-rag/internal/core/retrieval"
)

const (
	// DefaultEmbeddingModel はモデル未指定時のデフォルトモデル
	DefaultEmbeddingModel = "text-embedding-3-small"
	// DefaultEmbeddingDimension はドキュメントストアのベクトル列と同じ次元
	DefaultEmbeddingDimension = 768

	// MaxRetries はレート制限エラー時のデフォルトの最大リトライ回数
	MaxRetries = 3

	// BaseBackoff はExponential Backoffの基底時間
	BaseBackoff = 2 * time.Second

	// MaxBackoff はExponential Backoffの最大待機時間
	MaxBackoff = 32 * time.Second
)

// ErrMaxRetriesExceeded は最大リトライ回数を超過した場合のエラー
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// Embedder は OpenAI API を使用してテキストをベクトルに変換する
type Embedder struct {
	client      openai.Client
	model       string
	dimension   int
	baseBackoff time.Duration
	maxRetries  int
}

type embedderOptions struct {
	model       string
	dimension   int
	baseURL     string
	baseBackoff time.Duration
	maxRetries  int
}

// EmbedderOption は Embedder のオプション設定
type EmbedderOption func(*embedderOptions)

// WithEmbeddingModel はモデル名を上書きする
func WithEmbeddingModel(model string) EmbedderOption {
	return func(o *embedderOptions) {
		if model != "" {
			o.model = model
		}
	}
}

// WithEmbeddingDimension はベクトル次元を上書きする
func WithEmbeddingDimension(dimension int) EmbedderOption {
	return func(o *embedderOptions) {
		o.dimension = dimension
	}
}

// WithEmbeddingBaseURL はAPIのベースURLを上書きする
func WithEmbeddingBaseURL(baseURL string) EmbedderOption {
	return func(o *embedderOptions) {
		o.baseURL = baseURL
	}
}

// WithEmbeddingBackoff はレート制限時の基底待機時間を上書きする
func WithEmbeddingBackoff(d time.Duration) EmbedderOption {
	return func(o *embedderOptions) {
		o.baseBackoff = d
	}
}

// WithEmbeddingMaxRetries はレート制限時の再試行回数を上書きする。0 の場合は再試行しない
func WithEmbeddingMaxRetries(n int) EmbedderOption {
	return func(o *embedderOptions) {
		if n >= 0 {
			o.maxRetries = n
		}
	}
}

// NewEmbedder は新しい Embedder を作成する
func NewEmbedder(apiKey string, opts ...EmbedderOption) (*Embedder, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}
	options := embedderOptions{
		model:       DefaultEmbeddingModel,
		dimension:   DefaultEmbeddingDimension,
		baseBackoff: BaseBackoff,
		maxRetries:  MaxRetries,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Embedder{
		client:      openai.NewClient(requestOptions(apiKey, options.baseURL)...),
		model:       options.model,
		dimension:   options.dimension,
		baseBackoff: options.baseBackoff,
		maxRetries:  options.maxRetries,
	}, nil
}

// Embed は単一テキストの Embedding を生成する。429 は maxRetries 回まで指数バックオフで再試行する
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
	}
	if e.dimension > 0 {
		params.Dimensions = openai.Int(int64(e.dimension))
	}

	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(e.backoff(attempt)):
			}
		}

		resp, err := e.client.Embeddings.New(ctx, params)
		if err != nil {
			lastErr = err
			if isRateLimitError(err) {
				continue
			}
			return nil, fmt.Errorf("failed to generate embedding: %w", err)
		}
		if len(resp.Data) == 0 {
			return nil, fmt.Errorf("no embeddings generated")
		}

		vector := make([]float32, len(resp.Data[0].Embedding))
		for i, v := range resp.Data[0].Embedding {
			vector[i] = float32(v)
		}
		return vector, nil
	}

	return nil, fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, lastErr)
}

func (e *Embedder) backoff(attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt-1))) * e.baseBackoff
	if d > MaxBackoff {
		d = MaxBackoff
	}
	return d
}

// ModelName はモデル名を返す
func (e *Embedder) ModelName() string {
	return e.model
}

// Dimension はベクトル次元数を返す
func (e *Embedder) Dimension() int {
	return e.dimension
}

func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

// インターフェース実装の確認
var (
	_ document.Embedder  = (*Embedder)(nil)
	_ retrieval.Embedder = (*Embedder)(nil)
)
