package answer

import (
	"encoding/json"
	"strings"
)

// PartialSegment は生成途中のセグメント。未出力のフィールドは nil
type PartialSegment struct {
	Text                *string      `json:"text,omitempty"`
	Type                *SegmentType `json:"type,omitempty"`
	SourceDocumentID    *string      `json:"sourceDocumentId,omitempty"`
	SourceDocumentTitle *string      `json:"sourceDocumentTitle,omitempty"`
	Confidence          *float64     `json:"confidence,omitempty"`
}

// PartialResponse はストリーミング中の回答スナップショット。
// 出典はまだ検証されていないため、表示用途に限る
type PartialResponse struct {
	Response []PartialSegment `json:"response"`
}

// maxRepairAttempts は不完全なJSONの補修で試す切断位置の数
const maxRepairAttempts = 8

// ParsePartial は途中までのJSON出力を補修して PartialResponse を返す。
// まだ意味のある内容がない場合は false を返す
func ParsePartial(buf string) (PartialResponse, bool) {
	for _, candidate := range repairCandidates(buf) {
		var p PartialResponse
		if err := json.Unmarshal([]byte(candidate), &p); err != nil {
			continue
		}
		p.Response = compactSegments(p.Response)
		if len(p.Response) == 0 {
			return PartialResponse{}, false
		}
		return p, true
	}
	return PartialResponse{}, false
}

func compactSegments(segments []PartialSegment) []PartialSegment {
	out := segments[:0]
	for _, s := range segments {
		if s.Text == nil && s.Type == nil && s.SourceDocumentID == nil && s.SourceDocumentTitle == nil && s.Confidence == nil {
			continue
		}
		out = append(out, s)
	}
	return out
}

// cutPoint はそこでJSONを切れば閉じ括弧を補うだけで構文が成立しうる位置
type cutPoint struct {
	pos   int
	stack []byte
}

// repairCandidates は不完全なJSONから、閉じ括弧を補った候補を末尾に近い順に返す
func repairCandidates(buf string) []string {
	var (
		stack    []byte
		inString bool
		escaped  bool
		cuts     []cutPoint
	)

	snapshot := func(pos int) {
		cuts = append(cuts, cutPoint{pos: pos, stack: append([]byte(nil), stack...)})
	}

	for i := 0; i < len(buf); i++ {
		c := buf[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
				snapshot(i + 1)
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
			snapshot(i + 1)
		case '[':
			stack = append(stack, ']')
			snapshot(i + 1)
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			snapshot(i + 1)
		case ',':
			snapshot(i)
		default:
			// 数値やリテラルの終端
			if i+1 == len(buf) || strings.IndexByte(",}] \n\r\t", buf[i+1]) >= 0 {
				if strings.IndexByte("0123456789el", c) >= 0 {
					snapshot(i + 1)
				}
			}
		}
	}

	candidates := make([]string, 0, maxRepairAttempts+1)

	if inString {
		// 文字列の途中で切れている場合は閉じて採用を試みる
		s := buf
		if escaped {
			s = s[:len(s)-1]
		}
		candidates = append(candidates, s+`"`+closers(stack))
	} else if len(stack) == 0 && strings.TrimSpace(buf) != "" {
		candidates = append(candidates, buf)
	}

	for i := len(cuts) - 1; i >= 0 && len(candidates) <= maxRepairAttempts; i-- {
		cut := cuts[i]
		candidates = append(candidates, buf[:cut.pos]+closers(cut.stack))
	}

	return candidates
}

func closers(stack []byte) string {
	b := make([]byte, 0, len(stack))
	for i := len(stack) - 1; i >= 0; i-- {
		b = append(b, stack[i])
	}
	return string(b)
}
