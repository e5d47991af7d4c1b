package ollama

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/jinford/study-rag/internal/core/document"
	"github.com/jinford/study-rag/internal/core/retrieval"
)

const (
	// DefaultModel はローカルで768次元を返すEmbeddingモデル
	DefaultModel = "nomic-embed-text"
	// DefaultServerURL はOllamaサーバーのデフォルトURL
	DefaultServerURL = "http://localhost:11434"
	// DefaultDimension は DefaultModel の次元数
	DefaultDimension = 768
)

// Embedder は langchaingo 経由で Ollama の Embedding を生成する
type Embedder struct {
	embedder  embeddings.Embedder
	model     string
	dimension int
}

// NewEmbedder は Ollama サーバーに接続する Embedder を作成する
func NewEmbedder(serverURL, model string, dimension int) (*Embedder, error) {
	if serverURL == "" {
		serverURL = DefaultServerURL
	}
	if model == "" {
		model = DefaultModel
	}
	if dimension <= 0 {
		dimension = DefaultDimension
	}

	llm, err := ollama.New(
		ollama.WithServerURL(serverURL),
		ollama.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama embedder: %w", err)
	}
	return newEmbedder(embedder, model, dimension), nil
}

func newEmbedder(embedder embeddings.Embedder, model string, dimension int) *Embedder {
	return &Embedder{embedder: embedder, model: model, dimension: dimension}
}

// Embed は単一テキストの Embedding を生成し、次元数を検証する
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embedding: %w", err)
	}
	if err := document.ValidateEmbedding(vec, e.dimension); err != nil {
		return nil, err
	}
	return vec, nil
}

// Dimension はベクトル次元数を返す
func (e *Embedder) Dimension() int {
	return e.dimension
}

// ModelName はモデル名を返す
func (e *Embedder) ModelName() string {
	return e.model
}

var (
	_ document.Embedder  = (*Embedder)(nil)
	_ retrieval.Embedder = (*Embedder)(nil)
)
