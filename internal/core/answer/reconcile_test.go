package answer

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/study-rag/internal/core/document"
	"github.com/jinford/study-rag/internal/core/retrieval"
)

func ptr[T any](v T) *T { return &v }

func retrieved(id uuid.UUID, title string, sim float64) retrieval.RetrievedDocument {
	return retrieval.RetrievedDocument{
		Document:   document.Document{ID: id, Title: title, Content: "content of " + title},
		Similarity: sim,
	}
}

func fromFile(text, id, title string, confidence float64) Segment {
	return Segment{Text: text, Type: SegmentFromFile, SourceDocumentID: ptr(id), SourceDocumentTitle: ptr(title), Confidence: confidence}
}

func generated(text string, confidence float64) Segment {
	return Segment{Text: text, Type: SegmentGenerated, Confidence: confidence}
}

type countingObserver struct {
	actions  map[string]int
	attempts map[string]int
	fallback int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{actions: map[string]int{}, attempts: map[string]int{}}
}

func (o *countingObserver) ObserveReconciledSegment(action string) { o.actions[action]++ }

func (o *countingObserver) ObserveGenerationAttempt(model, outcome string) {
	o.attempts[model+":"+outcome]++
}

func (o *countingObserver) ObserveGenerationFallback() { o.fallback++ }

func TestReconcile_DemotesUnknownCitation(t *testing.T) {
	doc1 := uuid.New()
	docs := []retrieval.RetrievedDocument{retrieved(doc1, "Bio", 0.8)}

	resp := StructuredResponse{Response: []Segment{
		fromFile("Chlorophyll absorbs light.", "doc-999", "Ghost Notes", 0.95),
	}}

	got := Reconcile(resp, docs)

	require.Len(t, got.Response, 1)
	seg := got.Response[0]
	assert.Equal(t, SegmentGenerated, seg.Type)
	assert.Nil(t, seg.SourceDocumentID)
	assert.Nil(t, seg.SourceDocumentTitle)
	assert.Equal(t, DemotedConfidence, seg.Confidence)
	assert.Equal(t, "Chlorophyll absorbs light.", seg.Text)
	assert.Equal(t, 0, got.Metadata.FileBasedSegments)
	assert.Equal(t, 0, got.Metadata.FileUsagePercentage)
	assert.Empty(t, got.Metadata.PrimarySources)
}

func TestReconcile_RecomputesMetadata(t *testing.T) {
	doc1 := uuid.New()
	doc2 := uuid.New()
	docs := []retrieval.RetrievedDocument{retrieved(doc1, "Bio", 0.8), retrieved(doc2, "Chem", 0.6)}

	resp := StructuredResponse{
		Response: []Segment{
			fromFile("Plants use light.", doc1.String(), "Bio", 0.9),
			generated("This is a general fact.", 0.6),
			fromFile("Glucose is produced.", doc1.String(), "Bio", 0.9),
		},
		// モデルが返した誤った集計値は無視される
		Metadata: Metadata{TotalSegments: 10, FileUsagePercentage: 99},
	}

	got := Reconcile(resp, docs)

	assert.Equal(t, 3, got.Metadata.TotalSegments)
	assert.Equal(t, 2, got.Metadata.FileBasedSegments)
	assert.Equal(t, 1, got.Metadata.GeneratedSegments)
	assert.Equal(t, 67, got.Metadata.FileUsagePercentage)
	assert.InDelta(t, 0.8, got.Metadata.AverageConfidence, 1e-9)
	assert.Equal(t, []PrimarySource{{DocumentID: doc1.String(), DocumentTitle: "Bio", UsageCount: 2}}, got.Metadata.PrimarySources)
}

func TestReconcile_CorrectsTitlesAndSortsSources(t *testing.T) {
	doc1 := uuid.New()
	doc2 := uuid.New()
	docs := []retrieval.RetrievedDocument{retrieved(doc1, "Bio", 0.8), retrieved(doc2, "Chem", 0.6)}

	resp := StructuredResponse{Response: []Segment{
		fromFile("a", doc1.String(), "biology notes", 0.7),
		fromFile("b", doc2.String(), "Chem", 0.8),
		fromFile("c", doc2.String(), "Chemistry", 0.9),
		{Text: "d", Type: SegmentFromFile, Confidence: 0.9},
	}}

	observer := newCountingObserver()
	got := NewReconciler(observer).Reconcile(resp, docs)

	assert.Equal(t, "Bio", *got.Response[0].SourceDocumentTitle)
	assert.Equal(t, "Chem", *got.Response[2].SourceDocumentTitle)
	assert.Equal(t, SegmentGenerated, got.Response[3].Type, "出典IDのない from_file は降格する")
	assert.Equal(t, []PrimarySource{
		{DocumentID: doc2.String(), DocumentTitle: "Chem", UsageCount: 2},
		{DocumentID: doc1.String(), DocumentTitle: "Bio", UsageCount: 1},
	}, got.Metadata.PrimarySources)
	assert.Equal(t, 2, observer.actions[ReconcileTitleCorrected])
	assert.Equal(t, 1, observer.actions[ReconcileKept])
	assert.Equal(t, 1, observer.actions[ReconcileDemoted])

	// 入力は変更しない
	assert.Equal(t, "biology notes", *resp.Response[0].SourceDocumentTitle)
}

func TestReconcile_GeneratedSegmentsDropSourceFields(t *testing.T) {
	docs := []retrieval.RetrievedDocument{retrieved(uuid.New(), "Bio", 0.8)}
	resp := StructuredResponse{Response: []Segment{
		{Text: "x", Type: SegmentGenerated, SourceDocumentID: ptr("anything"), SourceDocumentTitle: ptr("t"), Confidence: 1.4},
	}}

	got := Reconcile(resp, docs)

	assert.Nil(t, got.Response[0].SourceDocumentID)
	assert.Nil(t, got.Response[0].SourceDocumentTitle)
	assert.Equal(t, 1.0, got.Response[0].Confidence)
}

func TestReconcile_Invariants(t *testing.T) {
	doc1 := uuid.New()
	doc2 := uuid.New()
	docs := []retrieval.RetrievedDocument{retrieved(doc1, "Bio", 0.8), retrieved(doc2, "Chem", 0.6)}

	inputs := map[string]StructuredResponse{
		"空の回答": {Response: []Segment{}},
		"すべて generated": {Response: []Segment{generated("a", 0.2), generated("b", 0.4)}},
		"混在": {Response: []Segment{
			fromFile("a", doc1.String(), "Bio", 0.9),
			fromFile("b", "doc-999", "Ghost", 0.9),
			generated("c", 0.1),
			fromFile("d", doc2.String(), "wrong", 0.3),
		}},
		"すべて from_file": {Response: []Segment{
			fromFile("a", doc1.String(), "Bio", 1),
			fromFile("b", doc2.String(), "Chem", 1),
		}},
	}

	allowed := map[string]string{doc1.String(): "Bio", doc2.String(): "Chem"}

	for name, input := range inputs {
		t.Run(name, func(t *testing.T) {
			got := Reconcile(input, docs)
			meta := got.Metadata

			assert.Equal(t, len(got.Response), meta.TotalSegments)
			assert.Equal(t, meta.TotalSegments, meta.FileBasedSegments+meta.GeneratedSegments)
			assert.GreaterOrEqual(t, meta.FileUsagePercentage, 0)
			assert.LessOrEqual(t, meta.FileUsagePercentage, 100)

			usage := 0
			for i, src := range meta.PrimarySources {
				usage += src.UsageCount
				if i > 0 {
					assert.GreaterOrEqual(t, meta.PrimarySources[i-1].UsageCount, src.UsageCount)
				}
			}
			assert.Equal(t, meta.FileBasedSegments, usage)

			for _, seg := range got.Response {
				if seg.Type == SegmentFromFile {
					require.NotNil(t, seg.SourceDocumentID)
					require.NotNil(t, seg.SourceDocumentTitle)
					assert.Equal(t, allowed[*seg.SourceDocumentID], *seg.SourceDocumentTitle)
				} else {
					assert.Nil(t, seg.SourceDocumentID)
					assert.Nil(t, seg.SourceDocumentTitle)
				}
				assert.GreaterOrEqual(t, seg.Confidence, 0.0)
				assert.LessOrEqual(t, seg.Confidence, 1.0)
			}

			assert.Equal(t, got, Reconcile(got, docs), "2回適用しても結果は変わらない")
		})
	}
}
