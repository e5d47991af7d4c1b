package retrieval

import (
	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/jinford/study-rag/internal/core/document"
)

const (
	// DefaultMaxResults は maxResults 未指定時の上限件数
	DefaultMaxResults = 5

	// MaxUsableResults は類似度ティアで採用できる最大件数。これを超えるとしきい値を上げる
	MaxUsableResults = 15

	// HybridSimilarity はキーワード一致ティアの結果に付与する固定スコア
	HybridSimilarity = 0.3

	// FallbackSimilarity は最新ドキュメントティアの結果に付与する固定スコア
	FallbackSimilarity = 0.4

	// MaxSearchTerms はキーワード一致ティアで使う語の最大数
	MaxSearchTerms = 5

	// MinTermLength はキーワードとして採用する語の最小長（これより長い語のみ）
	MinTermLength = 2
)

// SimilarityThresholds は類似度ティアで順に試すしきい値（緩い順）
var SimilarityThresholds = []float64{0.2, 0.3, 0.4, 0.5}

// Tier は結果を生成した検索段階
type Tier string

const (
	TierSimilarity Tier = "similarity"
	TierHybrid     Tier = "hybrid"
	TierFallback   Tier = "fallback"
	TierNone       Tier = "none"
)

// Scope は検索対象のユーザーと任意の科目
type Scope struct {
	UserID    uuid.UUID
	SubjectID mo.Option[uuid.UUID]
}

// RetrievedDocument は検索結果のドキュメントと関連度。
// Similarity は類似度ティアでは [0,1] のコサイン類似度、それ以外ではティア固有の固定値
type RetrievedDocument struct {
	document.Document
	Similarity float64
}

// RetrieveParams は検索パラメータ
type RetrieveParams struct {
	Query      string
	UserID     uuid.UUID
	SubjectID  mo.Option[uuid.UUID]
	MaxResults int
}

// IDs は検索結果のドキュメントIDを順序通りに返す
func IDs(docs []RetrievedDocument) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids
}
