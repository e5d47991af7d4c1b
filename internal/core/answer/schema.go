package answer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// SchemaName は構造化出力に付けるスキーマ名
const SchemaName = "structured_response"

// ResponseSchema はモデルの構造化出力に渡すJSONスキーマを返す。
// プロバイダーの strict モードで受理されるよう、すべてのプロパティを required にし範囲制約は含めない
func ResponseSchema() map[string]any {
	nullableString := map[string]any{"type": []string{"string", "null"}}

	segment := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text":                map[string]any{"type": "string"},
			"type":                map[string]any{"type": "string", "enum": []string{string(SegmentFromFile), string(SegmentGenerated)}},
			"sourceDocumentId":    nullableString,
			"sourceDocumentTitle": nullableString,
			"confidence":          map[string]any{"type": "number"},
		},
		"required":             []string{"text", "type", "sourceDocumentId", "sourceDocumentTitle", "confidence"},
		"additionalProperties": false,
	}

	primarySource := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"documentId":    map[string]any{"type": "string"},
			"documentTitle": map[string]any{"type": "string"},
			"usageCount":    map[string]any{"type": "integer"},
		},
		"required":             []string{"documentId", "documentTitle", "usageCount"},
		"additionalProperties": false,
	}

	metadata := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"totalSegments":       map[string]any{"type": "integer"},
			"fileBasedSegments":   map[string]any{"type": "integer"},
			"generatedSegments":   map[string]any{"type": "integer"},
			"fileUsagePercentage": map[string]any{"type": "number"},
			"averageConfidence":   map[string]any{"type": "number"},
			"primarySources":      map[string]any{"type": "array", "items": primarySource},
		},
		"required":             []string{"totalSegments", "fileBasedSegments", "generatedSegments", "fileUsagePercentage", "averageConfidence", "primarySources"},
		"additionalProperties": false,
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"response": map[string]any{"type": "array", "items": segment},
			"metadata": metadata,
		},
		"required":             []string{"response", "metadata"},
		"additionalProperties": false,
	}
}

// validationSchema はモデル出力の検証に使うスキーマ。
// metadata は Reconcile で再計算するため、セグメント列の制約のみを課す
var validationSchema = mustCompileSchema(map[string]any{
	"type": "object",
	"properties": map[string]any{
		"response": map[string]any{
			"type":     "array",
			"minItems": 1,
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text":                map[string]any{"type": "string", "minLength": 1},
					"type":                map[string]any{"type": "string", "enum": []string{string(SegmentFromFile), string(SegmentGenerated)}},
					"sourceDocumentId":    map[string]any{"type": []string{"string", "null"}},
					"sourceDocumentTitle": map[string]any{"type": []string{"string", "null"}},
					"confidence":          map[string]any{"type": "number", "minimum": 0, "maximum": 1},
				},
				"required": []string{"text", "type", "confidence"},
			},
		},
	},
	"required": []string{"response"},
})

func mustCompileSchema(schema map[string]any) *gojsonschema.Schema {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
	if err != nil {
		panic(fmt.Sprintf("invalid response schema: %v", err))
	}
	return compiled
}

// DecodeResponse はモデルの生出力を検証して StructuredResponse に変換する
func DecodeResponse(raw string) (*StructuredResponse, error) {
	raw = stripCodeFence(raw)
	if raw == "" {
		return nil, ErrEmptyCompletion
	}

	result, err := validationSchema.Validate(gojsonschema.NewStringLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaValidation, err)
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			details = append(details, e.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrSchemaValidation, strings.Join(details, "; "))
	}

	var resp StructuredResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaValidation, err)
	}
	for _, seg := range resp.Response {
		if strings.TrimSpace(seg.Text) == "" {
			return nil, fmt.Errorf("%w: blank segment text", ErrSchemaValidation)
		}
	}

	return &resp, nil
}

// stripCodeFence はMarkdownのコードブロックで囲まれた出力から中身を取り出す
func stripCodeFence(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "```") {
		return raw
	}
	raw = strings.TrimPrefix(raw, "```")
	if i := strings.IndexByte(raw, '\n'); i >= 0 {
		raw = raw[i+1:]
	}
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
	return strings.TrimSpace(raw)
}
