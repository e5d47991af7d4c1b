package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/jinford/study-rag/internal/core/document"
	"github.com/jinford/study-rag/internal/core/retrieval"
	"github.com/jinford/study-rag/internal/infra/postgres/sqlc"
	pgvector "github.com/pgvector/pgvector-go"
)

// DocumentRepository は document.Repository と retrieval.Store を実装する PostgreSQL リポジトリ
type DocumentRepository struct {
	q sqlc.Querier
}

// NewDocumentRepository は新しい DocumentRepository を返す
func NewDocumentRepository(q sqlc.Querier) *DocumentRepository {
	return &DocumentRepository{q: q}
}

// コンパイル時の型チェック
var (
	_ document.Repository = (*DocumentRepository)(nil)
	_ retrieval.Store     = (*DocumentRepository)(nil)
)

func (r *DocumentRepository) Create(ctx context.Context, doc *document.Document) (*document.Document, error) {
	id := doc.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	metadata, err := JSONBFromMap(doc.Metadata)
	if err != nil {
		return nil, err
	}

	row, err := r.q.CreateDocument(ctx, sqlc.CreateDocumentParams{
		ID:        UUIDToPgtype(id),
		UserID:    UUIDToPgtype(doc.UserID),
		SubjectID: UUIDPtrToPgtype(doc.SubjectID),
		Title:     doc.Title,
		Content:   doc.Content,
		FileName:  StringPtrToPgtext(doc.FileName),
		WordCount: int32(doc.WordCount),
		PageCount: int32(doc.PageCount),
		Metadata:  metadata,
		Embedding: VectorFromFloat32(doc.Embedding),
	})
	if err != nil {
		if IsUniqueViolation(err) {
			return nil, fmt.Errorf("document already exists: %s", id)
		}
		return nil, fmt.Errorf("failed to create document: %w", err)
	}
	return documentFromRow(row), nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id uuid.UUID) (*document.Document, error) {
	row, err := r.q.GetDocument(ctx, UUIDToPgtype(id))
	if err != nil {
		if IsNotFound(err) {
			return nil, document.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return documentFromRow(row), nil
}

func (r *DocumentRepository) ListByUser(ctx context.Context, userID uuid.UUID, subjectID mo.Option[uuid.UUID]) ([]*document.Document, error) {
	rows, err := r.q.ListDocumentsByUser(ctx, sqlc.ListDocumentsByUserParams{
		UserID:    UUIDToPgtype(userID),
		SubjectID: UUIDOptionToPgtype(subjectID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return documentsFromRows(rows), nil
}

func (r *DocumentRepository) Update(ctx context.Context, doc *document.Document) (*document.Document, error) {
	metadata, err := JSONBFromMap(doc.Metadata)
	if err != nil {
		return nil, err
	}

	row, err := r.q.UpdateDocument(ctx, sqlc.UpdateDocumentParams{
		ID:        UUIDToPgtype(doc.ID),
		Title:     doc.Title,
		Content:   doc.Content,
		SubjectID: UUIDPtrToPgtype(doc.SubjectID),
		WordCount: int32(doc.WordCount),
		PageCount: int32(doc.PageCount),
		Metadata:  metadata,
		Embedding: VectorFromFloat32(doc.Embedding),
	})
	if err != nil {
		if IsNotFound(err) {
			return nil, document.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to update document: %w", err)
	}
	return documentFromRow(row), nil
}

func (r *DocumentRepository) UpdateEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error {
	affected, err := r.q.UpdateDocumentEmbedding(ctx, sqlc.UpdateDocumentEmbeddingParams{
		ID:        UUIDToPgtype(id),
		Embedding: VectorFromFloat32(embedding),
	})
	if err != nil {
		return fmt.Errorf("failed to update document embedding: %w", err)
	}
	if affected == 0 {
		return document.ErrDocumentNotFound
	}
	return nil
}

func (r *DocumentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	affected, err := r.q.DeleteDocument(ctx, UUIDToPgtype(id))
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if affected == 0 {
		return document.ErrDocumentNotFound
	}
	return nil
}

func (r *DocumentRepository) ListMissingEmbeddings(ctx context.Context, limit int) ([]*document.Document, error) {
	rows, err := r.q.ListDocumentsMissingEmbedding(ctx, int32(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list documents missing embedding: %w", err)
	}
	return documentsFromRows(rows), nil
}

// === retrieval.Store ===

func (r *DocumentRepository) SearchBySimilarity(ctx context.Context, scope retrieval.Scope, vector []float32, threshold float64, limit int) ([]retrieval.RetrievedDocument, error) {
	rows, err := r.q.SearchDocumentsBySimilarity(ctx, sqlc.SearchDocumentsBySimilarityParams{
		QueryVector: pgvector.NewVector(vector),
		UserID:      UUIDToPgtype(scope.UserID),
		SubjectID:   UUIDOptionToPgtype(scope.SubjectID),
		Threshold:   threshold,
		RowLimit:    int32(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search documents by similarity: %w", err)
	}

	results := make([]retrieval.RetrievedDocument, 0, len(rows))
	for _, row := range rows {
		doc := documentFromRow(sqlc.Document{
			ID:        row.ID,
			UserID:    row.UserID,
			SubjectID: row.SubjectID,
			Title:     row.Title,
			Content:   row.Content,
			FileName:  row.FileName,
			WordCount: row.WordCount,
			PageCount: row.PageCount,
			Metadata:  row.Metadata,
			Embedding: row.Embedding,
			CreatedAt: row.CreatedAt,
			UpdatedAt: row.UpdatedAt,
		})
		results = append(results, retrieval.RetrievedDocument{Document: *doc, Similarity: row.Similarity})
	}
	return results, nil
}

func (r *DocumentRepository) SearchByTerms(ctx context.Context, scope retrieval.Scope, terms []string, limit int) ([]*document.Document, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	rows, err := r.q.SearchDocumentsByTerms(ctx, sqlc.SearchDocumentsByTermsParams{
		UserID:    UUIDToPgtype(scope.UserID),
		SubjectID: UUIDOptionToPgtype(scope.SubjectID),
		Patterns:  likePatterns(terms),
		RowLimit:  int32(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search documents by terms: %w", err)
	}
	return documentsFromRows(rows), nil
}

func (r *DocumentRepository) ListRecent(ctx context.Context, scope retrieval.Scope, limit int) ([]*document.Document, error) {
	rows, err := r.q.ListRecentDocuments(ctx, sqlc.ListRecentDocumentsParams{
		UserID:    UUIDToPgtype(scope.UserID),
		SubjectID: UUIDOptionToPgtype(scope.SubjectID),
		RowLimit:  int32(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list recent documents: %w", err)
	}
	return documentsFromRows(rows), nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePatterns は語を ILIKE 用の部分一致パターンに変換する
func likePatterns(terms []string) []string {
	patterns := make([]string, 0, len(terms))
	for _, t := range terms {
		patterns = append(patterns, "%"+likeEscaper.Replace(t)+"%")
	}
	return patterns
}

func documentFromRow(row sqlc.Document) *document.Document {
	return &document.Document{
		ID:        PgtypeToUUID(row.ID),
		UserID:    PgtypeToUUID(row.UserID),
		SubjectID: PgtypeToUUIDPtr(row.SubjectID),
		Title:     row.Title,
		Content:   row.Content,
		FileName:  PgtextToStringPtr(row.FileName),
		WordCount: int(row.WordCount),
		PageCount: int(row.PageCount),
		Metadata:  MapFromJSONB(row.Metadata),
		Embedding: Float32FromVector(row.Embedding),
		CreatedAt: PgtypeToTime(row.CreatedAt),
		UpdatedAt: PgtypeToTime(row.UpdatedAt),
	}
}

func documentsFromRows(rows []sqlc.Document) []*document.Document {
	docs := make([]*document.Document, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, documentFromRow(row))
	}
	return docs
}
