package answer

import (
	"math"
	"sort"

	"github.com/jinford/study-rag/internal/core/retrieval"
)

// ReconcileObserver は補正内容の通知先（メトリクス用）
type ReconcileObserver interface {
	ObserveReconciledSegment(action string)
}

// 補正アクション
const (
	ReconcileDemoted        = "demoted"
	ReconcileTitleCorrected = "title_corrected"
	ReconcileKept           = "kept"
)

// Reconcile は回答の出典を検索結果と突き合わせて補正し、メタデータを再計算する。
// 入力は変更せず、同じ docs に対して2回適用しても結果は変わらない
func Reconcile(resp StructuredResponse, docs []retrieval.RetrievedDocument) StructuredResponse {
	return reconcile(resp, docs, nil)
}

func reconcile(resp StructuredResponse, docs []retrieval.RetrievedDocument, observer ReconcileObserver) StructuredResponse {
	titles := make(map[string]string, len(docs))
	for _, d := range docs {
		titles[d.ID.String()] = d.Title
	}

	notify := func(action string) {
		if observer != nil {
			observer.ObserveReconciledSegment(action)
		}
	}

	segments := make([]Segment, 0, len(resp.Response))
	for _, seg := range resp.Response {
		seg.Confidence = clampConfidence(seg.Confidence)

		if seg.Type != SegmentFromFile {
			seg.Type = SegmentGenerated
			seg.SourceDocumentID = nil
			seg.SourceDocumentTitle = nil
			segments = append(segments, seg)
			continue
		}

		var title string
		var ok bool
		if seg.SourceDocumentID != nil {
			title, ok = titles[*seg.SourceDocumentID]
		}
		if !ok {
			seg.Type = SegmentGenerated
			seg.SourceDocumentID = nil
			seg.SourceDocumentTitle = nil
			seg.Confidence = DemotedConfidence
			notify(ReconcileDemoted)
			segments = append(segments, seg)
			continue
		}

		id := *seg.SourceDocumentID
		seg.SourceDocumentID = &id
		if seg.SourceDocumentTitle == nil || *seg.SourceDocumentTitle != title {
			notify(ReconcileTitleCorrected)
		} else {
			notify(ReconcileKept)
		}
		canonical := title
		seg.SourceDocumentTitle = &canonical
		segments = append(segments, seg)
	}

	return StructuredResponse{
		Response: segments,
		Metadata: ComputeMetadata(segments),
	}
}

// Reconciler は Reconcile に補正結果の通知を加えたもの
type Reconciler struct {
	observer ReconcileObserver
}

// NewReconciler は新しいReconcilerを作成する。observer は nil でもよい
func NewReconciler(observer ReconcileObserver) *Reconciler {
	return &Reconciler{observer: observer}
}

// Reconcile は Reconcile と同じ補正を行う
func (r *Reconciler) Reconcile(resp StructuredResponse, docs []retrieval.RetrievedDocument) StructuredResponse {
	if r == nil {
		return Reconcile(resp, docs)
	}
	return reconcile(resp, docs, r.observer)
}

// ComputeMetadata はセグメント列から集計値を計算する
func ComputeMetadata(segments []Segment) Metadata {
	meta := Metadata{
		TotalSegments:  len(segments),
		PrimarySources: []PrimarySource{},
	}
	if len(segments) == 0 {
		return meta
	}

	var confidenceSum float64
	index := make(map[string]int)
	for _, seg := range segments {
		confidenceSum += seg.Confidence

		if seg.Type != SegmentFromFile || seg.SourceDocumentID == nil {
			meta.GeneratedSegments++
			continue
		}
		meta.FileBasedSegments++

		id := *seg.SourceDocumentID
		if i, ok := index[id]; ok {
			meta.PrimarySources[i].UsageCount++
			continue
		}
		title := ""
		if seg.SourceDocumentTitle != nil {
			title = *seg.SourceDocumentTitle
		}
		index[id] = len(meta.PrimarySources)
		meta.PrimarySources = append(meta.PrimarySources, PrimarySource{
			DocumentID:    id,
			DocumentTitle: title,
			UsageCount:    1,
		})
	}

	meta.FileUsagePercentage = int(math.Round(100 * float64(meta.FileBasedSegments) / float64(meta.TotalSegments)))
	meta.AverageConfidence = confidenceSum / float64(meta.TotalSegments)

	// 同数の場合は初出順を保つ
	sort.SliceStable(meta.PrimarySources, func(i, j int) bool {
		return meta.PrimarySources[i].UsageCount > meta.PrimarySources[j].UsageCount
	})

	return meta
}

func clampConfidence(c float64) float64 {
	switch {
	case math.IsNaN(c):
		return DemotedConfidence
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}
