package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/mo"
)

// Service はドキュメント管理のビジネスロジックを提供する
type Service struct {
	repo     Repository
	embedder Embedder
	logger   *slog.Logger
}

type ServiceOption func(*Service)

// WithDocumentLogger は Service にロガーを設定する
func WithDocumentLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService は新しいServiceを作成する
func NewService(repo Repository, embedder Embedder, opts ...ServiceOption) *Service {
	svc := &Service{
		repo:     repo,
		embedder: embedder,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(svc)
	}

	if svc.logger == nil {
		svc.logger = slog.Default()
	}

	return svc
}

// Create はドキュメントを作成し、本文のEmbeddingを計算して保存する。
// Embedding生成に失敗した場合は Embedding なしで保存し、バックフィルジョブに委ねる
func (s *Service) Create(ctx context.Context, params CreateParams) (*Document, error) {
	if params.UserID == uuid.Nil {
		return nil, fmt.Errorf("userID is required")
	}
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return nil, fmt.Errorf("title is required")
	}
	if strings.TrimSpace(params.Content) == "" {
		return nil, ErrEmptyContent
	}

	doc := &Document{
		UserID:    params.UserID,
		Title:     title,
		Content:   params.Content,
		WordCount: CountWords(params.Content),
		PageCount: params.PageCount,
		Metadata:  params.Metadata,
	}
	if subjectID, ok := params.SubjectID.Get(); ok {
		doc.SubjectID = &subjectID
	}
	if fileName, ok := params.FileName.Get(); ok {
		doc.FileName = &fileName
	}
	if doc.Metadata == nil {
		doc.Metadata = map[string]any{}
	}

	embedding, err := s.embed(ctx, doc.Content)
	if err != nil {
		if errors.Is(err, ErrDimensionMismatch) {
			return nil, err
		}
		s.logger.Warn("failed to embed document, storing without embedding",
			"userID", doc.UserID.String(),
			"title", doc.Title,
			"error", err,
		)
	} else {
		doc.Embedding = embedding
	}

	created, err := s.repo.Create(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	s.logger.Info("document created",
		"documentID", created.ID.String(),
		"wordCount", created.WordCount,
		"embedded", created.HasEmbedding(),
	)

	return created, nil
}

// Get は所有者を確認してドキュメントを返す
func (s *Service) Get(ctx context.Context, userID, id uuid.UUID) (*Document, error) {
	doc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.UserID != userID {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

// List はユーザーのドキュメント一覧を返す
func (s *Service) List(ctx context.Context, userID uuid.UUID, subjectID mo.Option[uuid.UUID]) ([]*Document, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("userID is required")
	}

	docs, err := s.repo.ListByUser(ctx, userID, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, nil
}

// Update はドキュメントを更新する。本文が変わった場合はEmbeddingを再計算する
func (s *Service) Update(ctx context.Context, userID, id uuid.UUID, params UpdateParams) (*Document, error) {
	doc, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	if title, ok := params.Title.Get(); ok {
		title = strings.TrimSpace(title)
		if title == "" {
			return nil, fmt.Errorf("title must not be empty")
		}
		doc.Title = title
	}
	if subjectID, ok := params.SubjectID.Get(); ok {
		doc.SubjectID = &subjectID
	}
	if metadata, ok := params.Metadata.Get(); ok {
		doc.Metadata = metadata
	}

	if content, ok := params.Content.Get(); ok && content != doc.Content {
		if strings.TrimSpace(content) == "" {
			return nil, ErrEmptyContent
		}
		doc.Content = content
		doc.WordCount = CountWords(content)

		embedding, err := s.embed(ctx, content)
		if err != nil {
			if errors.Is(err, ErrDimensionMismatch) {
				return nil, err
			}
			// 古い本文のEmbeddingを残すと検索結果が不整合になるため破棄する
			s.logger.Warn("failed to re-embed document, clearing embedding",
				"documentID", doc.ID.String(),
				"error", err,
			)
			doc.Embedding = nil
		} else {
			doc.Embedding = embedding
		}
	}

	updated, err := s.repo.Update(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("failed to update document: %w", err)
	}
	return updated, nil
}

// Delete はドキュメントを物理削除する
func (s *Service) Delete(ctx context.Context, userID, id uuid.UUID) error {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	s.logger.Info("document deleted", "documentID", id.String())
	return nil
}

// Reembed は指定ドキュメントのEmbeddingを再計算する
func (s *Service) Reembed(ctx context.Context, userID, id uuid.UUID) error {
	doc, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}

	embedding, err := s.embed(ctx, doc.Content)
	if err != nil {
		return fmt.Errorf("failed to embed document: %w", err)
	}
	if err := s.repo.UpdateEmbedding(ctx, doc.ID, embedding); err != nil {
		return fmt.Errorf("failed to update embedding: %w", err)
	}
	return nil
}

// BackfillResult はバックフィル処理の結果
type BackfillResult struct {
	Processed int
	Succeeded int
	Failed    int
}

// BackfillEmbeddings はEmbedding未計算のドキュメントを最大 limit 件処理する
func (s *Service) BackfillEmbeddings(ctx context.Context, limit int) (*BackfillResult, error) {
	if limit <= 0 {
		limit = 100
	}

	docs, err := s.repo.ListMissingEmbeddings(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents without embedding: %w", err)
	}

	result := &BackfillResult{}
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Processed++

		embedding, err := s.embed(ctx, doc.Content)
		if err == nil {
			err = s.repo.UpdateEmbedding(ctx, doc.ID, embedding)
		}
		if err != nil {
			result.Failed++
			s.logger.Warn("failed to backfill embedding",
				"documentID", doc.ID.String(),
				"error", err,
			)
			continue
		}
		result.Succeeded++
	}

	return result, nil
}

func (s *Service) embed(ctx context.Context, text string) ([]float32, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("embedder is not configured")
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := ValidateEmbedding(vec, s.embedder.Dimension()); err != nil {
		return nil, err
	}
	return vec, nil
}
