package document

import (
	"context"

	"github.com/google/uuid"
	"github.com/samber/mo"
)

// Repository はドキュメントの永続化インターフェース
type Repository interface {
	// Create はドキュメントを保存する。ID が uuid.Nil の場合は採番する
	Create(ctx context.Context, doc *Document) (*Document, error)

	// GetByID はIDでドキュメントを取得する。存在しない場合は ErrDocumentNotFound
	GetByID(ctx context.Context, id uuid.UUID) (*Document, error)

	// ListByUser はユーザーのドキュメントを新しい順に返す
	ListByUser(ctx context.Context, userID uuid.UUID, subjectID mo.Option[uuid.UUID]) ([]*Document, error)

	// Update はタイトル・本文・科目・メタデータ・Embeddingを更新する
	Update(ctx context.Context, doc *Document) (*Document, error)

	// UpdateEmbedding はEmbeddingのみを更新する
	UpdateEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error

	// Delete はドキュメントを物理削除する
	Delete(ctx context.Context, id uuid.UUID) error

	// ListMissingEmbeddings はEmbedding未計算のドキュメントを古い順に返す
	ListMissingEmbeddings(ctx context.Context, limit int) ([]*Document, error)
}

// Embedder はテキストのEmbedding生成インターフェース
type Embedder interface {
	// Embed は単一テキストのEmbeddingを生成する
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimension は生成されるベクトルの次元数を返す
	Dimension() int
}
