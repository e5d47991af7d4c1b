package answer

import (
	"encoding/json"
	"errors"
	"strings"
)

var (
	// ErrSchemaValidation はモデル出力がレスポンススキーマに適合しない場合のエラー
	ErrSchemaValidation = errors.New("response does not match schema")

	// ErrEmptyCompletion はモデルが空の出力を返した場合のエラー
	ErrEmptyCompletion = errors.New("empty completion")
)

// SegmentType は回答セグメントの出典種別
type SegmentType string

const (
	// SegmentFromFile は特定のドキュメントに基づくセグメント
	SegmentFromFile SegmentType = "from_file"
	// SegmentGenerated はモデルの一般知識によるセグメント
	SegmentGenerated SegmentType = "generated"
)

// DemotedConfidence は出典が確認できなかったセグメントに付与する信頼度
const DemotedConfidence = 0.5

// Segment は回答の1区間
type Segment struct {
	Text                string      `json:"text"`
	Type                SegmentType `json:"type"`
	SourceDocumentID    *string     `json:"sourceDocumentId"`
	SourceDocumentTitle *string     `json:"sourceDocumentTitle"`
	Confidence          float64     `json:"confidence"`
}

// PrimarySource はドキュメントごとの引用回数
type PrimarySource struct {
	DocumentID    string `json:"documentId"`
	DocumentTitle string `json:"documentTitle"`
	UsageCount    int    `json:"usageCount"`
}

// Metadata はセグメント列から計算される集計値
type Metadata struct {
	TotalSegments       int             `json:"totalSegments"`
	FileBasedSegments   int             `json:"fileBasedSegments"`
	GeneratedSegments   int             `json:"generatedSegments"`
	FileUsagePercentage int             `json:"fileUsagePercentage"`
	AverageConfidence   float64         `json:"averageConfidence"`
	PrimarySources      []PrimarySource `json:"primarySources"`
}

// StructuredResponse は出典付きの構造化回答
type StructuredResponse struct {
	Response []Segment `json:"response"`
	Metadata Metadata  `json:"metadata"`
}

// PlainText はセグメントの本文を空白で連結する
func (r StructuredResponse) PlainText() string {
	texts := make([]string, 0, len(r.Response))
	for _, s := range r.Response {
		texts = append(texts, s.Text)
	}
	return strings.Join(texts, " ")
}

// Marshal は保存用にJSON文字列へ変換する
func (r StructuredResponse) Marshal() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ParseStoredResponse は保存済みのメッセージ本文を StructuredResponse として解釈する。
// 構造化回答でない場合は false を返す
func ParseStoredResponse(content string) (StructuredResponse, bool) {
	var resp StructuredResponse
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return StructuredResponse{}, false
	}
	if len(resp.Response) == 0 {
		return StructuredResponse{}, false
	}
	return resp, true
}

// Role は会話履歴の発話者
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// HistoryMessage は生成に渡す会話履歴の1件
type HistoryMessage struct {
	Role    Role
	Content string
}

// Result は生成結果
type Result struct {
	Response StructuredResponse
	// Model は回答を生成したモデル。フォールバック回答の場合は空
	Model string
	// TokensUsed はプロバイダーが使用量を報告しなかった場合 nil
	TokensUsed *int
	// Fallback は全モデルが失敗し定型回答を返した場合 true
	Fallback bool
}
