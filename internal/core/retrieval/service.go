package retrieval

import (
	"context"
	"log/slog"
	"strings"

	"github.com/jinford/study-rag/internal/core/document"
)

// Retriever はクエリに関連するユーザーのドキュメントを段階的に探す。
// 類似度ティア、キーワード一致ティア、最新ドキュメントティアの順に縮退し、エラーは返さない
type Retriever struct {
	store    Store
	embedder Embedder
	observer TierObserver
	logger   *slog.Logger
}

type RetrieverOption func(*Retriever)

// WithRetrieverLogger は Retriever にロガーを設定する
func WithRetrieverLogger(logger *slog.Logger) RetrieverOption {
	return func(r *Retriever) {
		r.logger = logger
	}
}

// WithTierObserver は採用ティアの通知先を設定する
func WithTierObserver(observer TierObserver) RetrieverOption {
	return func(r *Retriever) {
		r.observer = observer
	}
}

// NewRetriever は新しいRetrieverを作成する
func NewRetriever(store Store, embedder Embedder, opts ...RetrieverOption) *Retriever {
	r := &Retriever{
		store:    store,
		embedder: embedder,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.logger == nil {
		r.logger = slog.Default()
	}

	return r
}

// Retrieve は最大 MaxResults 件の関連ドキュメントを返す。
// 失敗はすべて次のティアへの縮退で吸収するため、結果が空になるのはユーザーにドキュメントがない場合か
// 最終ティアのストア呼び出しも失敗した場合のみ
func (r *Retriever) Retrieve(ctx context.Context, params RetrieveParams) []RetrievedDocument {
	maxResults := params.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	scope := Scope{UserID: params.UserID, SubjectID: params.SubjectID}
	logger := r.logger.With("userID", params.UserID.String())
	if subjectID, ok := params.SubjectID.Get(); ok {
		logger = logger.With("subjectID", subjectID.String())
	}

	docs, tier := r.retrieve(ctx, logger, scope, params.Query, maxResults)
	if len(docs) > maxResults {
		docs = docs[:maxResults]
	}

	if r.observer != nil {
		r.observer.ObserveRetrievalTier(string(tier), len(docs))
	}
	logger.Debug("retrieval completed", "tier", tier, "results", len(docs))

	return docs
}

func (r *Retriever) retrieve(ctx context.Context, logger *slog.Logger, scope Scope, query string, maxResults int) ([]RetrievedDocument, Tier) {
	if strings.TrimSpace(query) == "" {
		logger.Warn("empty query, using recent documents")
		return r.fallbackTier(ctx, logger, scope, maxResults)
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		logger.Warn("failed to embed query, using recent documents", "error", err)
		return r.fallbackTier(ctx, logger, scope, maxResults)
	}
	if len(vector) == 0 {
		logger.Warn("query embedding is empty, using recent documents")
		return r.fallbackTier(ctx, logger, scope, maxResults)
	}

	if docs := r.similarityTier(ctx, logger, scope, vector); len(docs) > 0 {
		return docs, TierSimilarity
	}

	logger.Warn("no documents above similarity thresholds, trying keyword match")
	return r.hybridTier(ctx, logger, scope, query, maxResults)
}

// similarityTier はしきい値を緩い順に試し、1〜MaxUsableResults 件になった最初の結果を採用する。
// どのしきい値でも件数が多すぎる場合は、結果が残った最も厳しいしきい値の集合を返す
func (r *Retriever) similarityTier(ctx context.Context, logger *slog.Logger, scope Scope, vector []float32) []RetrievedDocument {
	var strictest []RetrievedDocument

	for _, threshold := range SimilarityThresholds {
		// MaxUsableResults を超えたかどうかを判定できるよう1件多く取得する
		docs, err := r.store.SearchBySimilarity(ctx, scope, vector, threshold, MaxUsableResults+1)
		if err != nil {
			logger.Warn("similarity search failed", "threshold", threshold, "error", err)
			return strictest
		}

		if len(docs) >= 1 && len(docs) <= MaxUsableResults {
			return docs
		}
		if len(docs) == 0 {
			// しきい値を上げても結果は増えない
			break
		}

		logger.Debug("too many results, raising similarity threshold", "threshold", threshold, "results", len(docs))
		strictest = docs
	}

	return strictest
}

func (r *Retriever) hybridTier(ctx context.Context, logger *slog.Logger, scope Scope, query string, maxResults int) ([]RetrievedDocument, Tier) {
	terms := ExtractTerms(query)
	if len(terms) == 0 {
		logger.Warn("no usable search terms, using recent documents")
		return r.fallbackTier(ctx, logger, scope, maxResults)
	}

	docs, err := r.store.SearchByTerms(ctx, scope, terms, maxResults)
	if err != nil {
		logger.Warn("keyword search failed, using recent documents", "error", err)
		return r.fallbackTier(ctx, logger, scope, maxResults)
	}
	if len(docs) == 0 {
		logger.Warn("no keyword matches, using recent documents", "terms", terms)
		return r.fallbackTier(ctx, logger, scope, maxResults)
	}

	return withSimilarity(docs, HybridSimilarity), TierHybrid
}

func (r *Retriever) fallbackTier(ctx context.Context, logger *slog.Logger, scope Scope, maxResults int) ([]RetrievedDocument, Tier) {
	docs, err := r.store.ListRecent(ctx, scope, maxResults)
	if err != nil {
		logger.Error("failed to list recent documents", "error", err)
		return []RetrievedDocument{}, TierNone
	}
	if len(docs) == 0 {
		return []RetrievedDocument{}, TierNone
	}

	return withSimilarity(docs, FallbackSimilarity), TierFallback
}

func withSimilarity(docs []*document.Document, similarity float64) []RetrievedDocument {
	out := make([]RetrievedDocument, 0, len(docs))
	for _, d := range docs {
		out = append(out, RetrievedDocument{Document: *d, Similarity: similarity})
	}
	return out
}
