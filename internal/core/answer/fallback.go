package answer

import (
	"fmt"
	"strings"

	"github.com/jinford/study-rag/internal/core/retrieval"
)

// maxFallbackTitles は定型回答で言及するドキュメントタイトルの最大数
const maxFallbackTitles = 3

// FallbackResponse は全モデルが失敗した場合に返す定型回答を構築する。
// 1つの generated セグメント（信頼度1.0）のみを含み、ドキュメントの有無で文面を変える
func FallbackResponse(docs []retrieval.RetrievedDocument) StructuredResponse {
	var text string
	if len(docs) > 0 {
		titles := make([]string, 0, maxFallbackTitles)
		for _, d := range docs {
			if len(titles) == maxFallbackTitles {
				break
			}
			titles = append(titles, fmt.Sprintf("%q", d.Title))
		}
		text = fmt.Sprintf(
			"I'm having trouble generating a full answer right now, but I found related material in your documents: %s. "+
				"Please try asking again in a moment, or review those documents directly.",
			strings.Join(titles, ", "),
		)
	} else {
		text = "I'm having trouble generating an answer right now, and I couldn't find any of your study materials related to this question. " +
			"Try uploading your notes or documents on this topic so I can ground my answers in them, then ask again."
	}

	segments := []Segment{{
		Text:       text,
		Type:       SegmentGenerated,
		Confidence: 1.0,
	}}

	return StructuredResponse{
		Response: segments,
		Metadata: ComputeMetadata(segments),
	}
}
