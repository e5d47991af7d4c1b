package retrieval

import (
	"context"

	"github.com/jinford/study-rag/internal/core/document"
)

// Store は検索に必要なドキュメントストアの読み取りインターフェース
type Store interface {
	// SearchBySimilarity はコサイン類似度が threshold 以上のドキュメントを類似度の高い順に最大 limit 件返す
	SearchBySimilarity(ctx context.Context, scope Scope, vector []float32, threshold float64, limit int) ([]RetrievedDocument, error)

	// SearchByTerms はタイトルまたは本文にいずれかの語を含む（大文字小文字を区別しない）ドキュメントを新しい順に返す
	SearchByTerms(ctx context.Context, scope Scope, terms []string, limit int) ([]*document.Document, error)

	// ListRecent は新しい順にドキュメントを返す
	ListRecent(ctx context.Context, scope Scope, limit int) ([]*document.Document, error)
}

// Embedder はクエリのEmbedding生成インターフェース
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// TierObserver はどのティアで結果が決まったかを受け取る（メトリクス用）
type TierObserver interface {
	ObserveRetrievalTier(tier string, results int)
}
