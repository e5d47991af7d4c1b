package memstore

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"
	"github.com/samber/mo"

	"github.com/jinford/study-rag/internal/core/document"
	"github.com/jinford/study-rag/internal/core/retrieval"
)

const (
	collectionName = "documents"
	metaUserID     = "user_id"
	metaSubjectID  = "subject_id"
)

var errEmbeddingRequired = errors.New("memstore: documents must be added with a precomputed embedding")

// DocumentStore はプロセス内のドキュメントストア。
// ベクトル検索は chromem-go のコレクション、それ以外の検索は保持中のドキュメントを走査する
type DocumentStore struct {
	mu         sync.RWMutex
	docs       map[uuid.UUID]*entry
	seq        int64
	collection *chromem.Collection
	now        func() time.Time
}

type entry struct {
	doc *document.Document
	seq int64
}

// NewDocumentStore は空の DocumentStore を返す
func NewDocumentStore() (*DocumentStore, error) {
	db := chromem.NewDB()
	col, err := db.GetOrCreateCollection(collectionName, nil, func(ctx context.Context, text string) ([]float32, error) {
		return nil, errEmbeddingRequired
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}
	return &DocumentStore{
		docs:       make(map[uuid.UUID]*entry),
		collection: col,
		now:        time.Now,
	}, nil
}

var (
	_ document.Repository = (*DocumentStore)(nil)
	_ retrieval.Store     = (*DocumentStore)(nil)
)

func (s *DocumentStore) Create(ctx context.Context, doc *document.Document) (*document.Document, error) {
	stored := cloneDocument(doc)
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	now := s.now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[stored.ID]; ok {
		return nil, fmt.Errorf("document already exists: %s", stored.ID)
	}
	if err := s.index(ctx, stored); err != nil {
		return nil, err
	}
	s.seq++
	s.docs[stored.ID] = &entry{doc: stored, seq: s.seq}
	return cloneDocument(stored), nil
}

func (s *DocumentStore) GetByID(ctx context.Context, id uuid.UUID) (*document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.docs[id]
	if !ok {
		return nil, document.ErrDocumentNotFound
	}
	return cloneDocument(e.doc), nil
}

func (s *DocumentStore) ListByUser(ctx context.Context, userID uuid.UUID, subjectID mo.Option[uuid.UUID]) ([]*document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scope := retrieval.Scope{UserID: userID, SubjectID: subjectID}
	return s.collect(scope, 0, nil), nil
}

func (s *DocumentStore) Update(ctx context.Context, doc *document.Document) (*document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.docs[doc.ID]
	if !ok {
		return nil, document.ErrDocumentNotFound
	}

	updated := cloneDocument(doc)
	updated.UserID = e.doc.UserID
	updated.CreatedAt = e.doc.CreatedAt
	updated.UpdatedAt = s.now()

	if err := s.unindex(ctx, e.doc); err != nil {
		return nil, err
	}
	if err := s.index(ctx, updated); err != nil {
		return nil, err
	}
	e.doc = updated
	return cloneDocument(updated), nil
}

func (s *DocumentStore) UpdateEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.docs[id]
	if !ok {
		return document.ErrDocumentNotFound
	}

	updated := cloneDocument(e.doc)
	updated.Embedding = slices.Clone(embedding)
	updated.UpdatedAt = s.now()

	if err := s.unindex(ctx, e.doc); err != nil {
		return err
	}
	if err := s.index(ctx, updated); err != nil {
		return err
	}
	e.doc = updated
	return nil
}

func (s *DocumentStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.docs[id]
	if !ok {
		return document.ErrDocumentNotFound
	}
	if err := s.unindex(ctx, e.doc); err != nil {
		return err
	}
	delete(s.docs, id)
	return nil
}

func (s *DocumentStore) ListMissingEmbeddings(ctx context.Context, limit int) ([]*document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]*entry, 0)
	for _, e := range s.docs {
		if !e.doc.HasEmbedding() {
			entries = append(entries, e)
		}
	}
	slices.SortFunc(entries, func(a, b *entry) int {
		if c := a.doc.CreatedAt.Compare(b.doc.CreatedAt); c != 0 {
			return c
		}
		return int(a.seq - b.seq)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	docs := make([]*document.Document, 0, len(entries))
	for _, e := range entries {
		docs = append(docs, cloneDocument(e.doc))
	}
	return docs, nil
}

// === retrieval.Store ===

func (s *DocumentStore) SearchBySimilarity(ctx context.Context, scope retrieval.Scope, vector []float32, threshold float64, limit int) ([]retrieval.RetrievedDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := min(limit, s.collection.Count())
	if n <= 0 {
		return nil, nil
	}

	results, err := s.collection.QueryEmbedding(ctx, vector, n, scopeFilter(scope), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}

	out := make([]retrieval.RetrievedDocument, 0, len(results))
	for _, r := range results {
		similarity := float64(r.Similarity)
		if similarity < threshold {
			continue
		}
		id, err := uuid.Parse(r.ID)
		if err != nil {
			continue
		}
		e, ok := s.docs[id]
		if !ok {
			continue
		}
		out = append(out, retrieval.RetrievedDocument{Document: *cloneDocument(e.doc), Similarity: similarity})
	}
	return out, nil
}

func (s *DocumentStore) SearchByTerms(ctx context.Context, scope retrieval.Scope, terms []string, limit int) ([]*document.Document, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	lowered := make([]string, 0, len(terms))
	for _, t := range terms {
		lowered = append(lowered, strings.ToLower(t))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collect(scope, limit, func(d *document.Document) bool {
		title := strings.ToLower(d.Title)
		content := strings.ToLower(d.Content)
		for _, t := range lowered {
			if strings.Contains(title, t) || strings.Contains(content, t) {
				return true
			}
		}
		return false
	}), nil
}

func (s *DocumentStore) ListRecent(ctx context.Context, scope retrieval.Scope, limit int) ([]*document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collect(scope, limit, nil), nil
}

// collect はスコープ内で match を満たすドキュメントを新しい順に最大 limit 件返す（limit <= 0 は無制限）。
// 呼び出し側でロックを保持すること
func (s *DocumentStore) collect(scope retrieval.Scope, limit int, match func(*document.Document) bool) []*document.Document {
	entries := make([]*entry, 0)
	for _, e := range s.docs {
		if !inScope(e.doc, scope) {
			continue
		}
		if match != nil && !match(e.doc) {
			continue
		}
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b *entry) int {
		if c := b.doc.CreatedAt.Compare(a.doc.CreatedAt); c != 0 {
			return c
		}
		return int(b.seq - a.seq)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	docs := make([]*document.Document, 0, len(entries))
	for _, e := range entries {
		docs = append(docs, cloneDocument(e.doc))
	}
	return docs
}

func (s *DocumentStore) index(ctx context.Context, doc *document.Document) error {
	if !doc.HasEmbedding() {
		return nil
	}
	err := s.collection.AddDocument(ctx, chromem.Document{
		ID:        doc.ID.String(),
		Metadata:  documentMetadata(doc),
		Embedding: slices.Clone(doc.Embedding),
		Content:   doc.Title,
	})
	if err != nil {
		return fmt.Errorf("failed to index document: %w", err)
	}
	return nil
}

func (s *DocumentStore) unindex(ctx context.Context, doc *document.Document) error {
	if !doc.HasEmbedding() {
		return nil
	}
	if err := s.collection.Delete(ctx, nil, nil, doc.ID.String()); err != nil {
		return fmt.Errorf("failed to remove document from index: %w", err)
	}
	return nil
}

func documentMetadata(doc *document.Document) map[string]string {
	meta := map[string]string{metaUserID: doc.UserID.String(), metaSubjectID: ""}
	if doc.SubjectID != nil {
		meta[metaSubjectID] = doc.SubjectID.String()
	}
	return meta
}

func scopeFilter(scope retrieval.Scope) map[string]string {
	where := map[string]string{metaUserID: scope.UserID.String()}
	if subject, ok := scope.SubjectID.Get(); ok {
		where[metaSubjectID] = subject.String()
	}
	return where
}

func inScope(doc *document.Document, scope retrieval.Scope) bool {
	if doc.UserID != scope.UserID {
		return false
	}
	if subject, ok := scope.SubjectID.Get(); ok {
		return doc.SubjectID != nil && *doc.SubjectID == subject
	}
	return true
}

func cloneDocument(doc *document.Document) *document.Document {
	c := *doc
	if doc.SubjectID != nil {
		subject := *doc.SubjectID
		c.SubjectID = &subject
	}
	if doc.FileName != nil {
		name := *doc.FileName
		c.FileName = &name
	}
	c.Metadata = maps.Clone(doc.Metadata)
	c.Embedding = slices.Clone(doc.Embedding)
	return &c
}
