package document

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"
)

var (
	// ErrDocumentNotFound はドキュメントが存在しない、または他ユーザーの所有である場合のエラー
	ErrDocumentNotFound = errors.New("document not found")

	// ErrDimensionMismatch はEmbeddingの次元数が設定値と一致しない場合のエラー
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrEmptyContent は本文が空の場合のエラー
	ErrEmptyContent = errors.New("document content is empty")
)

// Document はユーザーがアップロードした学習資料を表す
type Document struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	SubjectID *uuid.UUID
	Title     string
	Content   string
	FileName  *string
	WordCount int
	PageCount int
	Metadata  map[string]any
	// Embedding は未計算の場合 nil
	Embedding []float32
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasEmbedding はEmbeddingが計算済みかどうかを返す
func (d *Document) HasEmbedding() bool {
	return len(d.Embedding) > 0
}

// CreateParams はドキュメント作成パラメータ
type CreateParams struct {
	UserID    uuid.UUID
	SubjectID mo.Option[uuid.UUID]
	Title     string
	Content   string
	FileName  mo.Option[string]
	PageCount int
	Metadata  map[string]any
}

// UpdateParams はドキュメント更新パラメータ。None のフィールドは変更しない
type UpdateParams struct {
	Title     mo.Option[string]
	Content   mo.Option[string]
	SubjectID mo.Option[uuid.UUID]
	Metadata  mo.Option[map[string]any]
}

// CountWords は空白区切りの語数を数える
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// ValidateEmbedding はベクトル長が dimension と一致するか検証する
func ValidateEmbedding(vec []float32, dimension int) error {
	if dimension > 0 && len(vec) != dimension {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, dimension, len(vec))
	}
	return nil
}
