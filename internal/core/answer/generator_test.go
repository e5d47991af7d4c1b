package answer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/study-rag/internal/core/retrieval"
)

// scriptedResult は1モデル分の応答
type scriptedResult struct {
	content string
	tokens  *int
	err     error

	// ストリーミング用
	chunks    []string
	streamErr error
	openErr   error
}

// stubClient はモデル名ごとに決められた応答を返す
type stubClient struct {
	mu       sync.Mutex
	results  map[string]scriptedResult
	calls    []string
	lastReq  StructuredRequest
	streamed []string
}

func (c *stubClient) GenerateStructured(ctx context.Context, req StructuredRequest) (*Completion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, req.Model)
	c.lastReq = req

	r, ok := c.results[req.Model]
	if !ok {
		return nil, errors.New("unknown model")
	}
	if r.err != nil {
		return nil, r.err
	}
	return &Completion{Content: r.content, Model: req.Model, TokensUsed: r.tokens}, nil
}

func (c *stubClient) StreamStructured(ctx context.Context, req StructuredRequest) (CompletionStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streamed = append(c.streamed, req.Model)
	c.lastReq = req

	r, ok := c.results[req.Model]
	if !ok {
		return nil, errors.New("unknown model")
	}
	if r.openErr != nil {
		return nil, r.openErr
	}
	return &stubStream{chunks: r.chunks, err: r.streamErr, tokens: r.tokens, pos: -1}, nil
}

type stubStream struct {
	chunks []string
	err    error
	tokens *int
	pos    int
}

func (s *stubStream) Next() bool {
	s.pos++
	return s.pos < len(s.chunks)
}

func (s *stubStream) Chunk() StreamChunk {
	chunk := StreamChunk{Delta: s.chunks[s.pos]}
	if s.pos == len(s.chunks)-1 {
		chunk.TokensUsed = s.tokens
	}
	return chunk
}

func (s *stubStream) Err() error   { return s.err }
func (s *stubStream) Close() error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{AddSource: false}))
}

func validJSON(t *testing.T, segments ...Segment) string {
	t.Helper()
	b, err := json.Marshal(StructuredResponse{Response: segments, Metadata: ComputeMetadata(segments)})
	require.NoError(t, err)
	return string(b)
}

func TestGenerator_Generate_UsesFirstSuccessfulModel(t *testing.T) {
	docID := uuid.New()
	docs := []retrieval.RetrievedDocument{retrieved(docID, "Bio", 0.72)}
	tokens := 321

	client := &stubClient{results: map[string]scriptedResult{
		"model-a": {err: errors.New("503 service unavailable")},
		"model-b": {content: "not json at all"},
		"model-c": {content: validJSON(t, fromFile("Plants use light.", docID.String(), "Bio", 0.9)), tokens: &tokens},
		"model-d": {content: validJSON(t, generated("never reached", 0.9))},
	}}
	observer := newCountingObserver()
	g := NewGenerator(client, []string{"model-a", "model-b", "model-c", "model-d"},
		WithGeneratorLogger(discardLogger()),
		WithGeneratorObserver(observer),
	)

	result := g.Generate(context.Background(), GenerateParams{UserMessage: "Explain photosynthesis", Documents: docs})

	require.NotNil(t, result)
	assert.False(t, result.Fallback)
	assert.Equal(t, "model-c", result.Model)
	require.NotNil(t, result.TokensUsed)
	assert.Equal(t, 321, *result.TokensUsed)
	assert.Equal(t, []string{"model-a", "model-b", "model-c"}, client.calls)
	assert.Equal(t, 1, observer.attempts["model-a:"+OutcomeProviderError])
	assert.Equal(t, 1, observer.attempts["model-b:"+OutcomeSchemaValidation])
	assert.Equal(t, 1, observer.attempts["model-c:"+OutcomeSuccess])

	assert.Equal(t, DefaultTemperature, client.lastReq.Temperature)
	assert.Equal(t, SchemaName, client.lastReq.SchemaName)
	assert.Contains(t, client.lastReq.SystemPrompt, docID.String())
}

func inflatedJSON(t *testing.T, segments ...Segment) string {
	t.Helper()
	b, err := json.Marshal(StructuredResponse{
		Response: segments,
		Metadata: Metadata{
			TotalSegments:       7,
			FileBasedSegments:   7,
			FileUsagePercentage: 100,
			AverageConfidence:   1,
			PrimarySources:      []PrimarySource{{DocumentID: "doc-999", DocumentTitle: "Ghost Notes", UsageCount: 7}},
		},
	})
	require.NoError(t, err)
	return string(b)
}

func TestGenerator_ReturnsReconciledResponse(t *testing.T) {
	docID := uuid.New()
	known := []retrieval.RetrievedDocument{retrieved(docID, "Bio", 0.8)}

	tests := []struct {
		name         string
		segments     []Segment
		docs         []retrieval.RetrievedDocument
		wantTypes    []SegmentType
		wantFilePct  int
		wantDemoted  int
		wantTitleFix int
	}{
		{
			name:        "ドキュメントなしで存在しない出典を引用した場合は generated に降格する",
			segments:    []Segment{fromFile("Chlorophyll absorbs light.", "doc-999", "Ghost Notes", 0.95)},
			docs:        nil,
			wantTypes:   []SegmentType{SegmentGenerated},
			wantFilePct: 0,
			wantDemoted: 1,
		},
		{
			name: "既知の出典はタイトルを正規化し未知の出典だけ降格する",
			segments: []Segment{
				fromFile("Plants use light.", docID.String(), "bio notes", 0.9),
				fromFile("Made up fact.", "doc-999", "Ghost Notes", 0.9),
			},
			docs:         known,
			wantTypes:    []SegmentType{SegmentFromFile, SegmentGenerated},
			wantFilePct:  50,
			wantDemoted:  1,
			wantTitleFix: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := inflatedJSON(t, tt.segments...)
			params := GenerateParams{UserMessage: "Explain photosynthesis", Documents: tt.docs}

			check := func(t *testing.T, result *Result, observer *countingObserver) {
				t.Helper()
				require.NotNil(t, result)
				assert.False(t, result.Fallback)
				require.Len(t, result.Response.Response, len(tt.wantTypes))
				for i, want := range tt.wantTypes {
					seg := result.Response.Response[i]
					assert.Equal(t, want, seg.Type)
					if want == SegmentGenerated {
						assert.Nil(t, seg.SourceDocumentID)
						assert.Nil(t, seg.SourceDocumentTitle)
					} else {
						require.NotNil(t, seg.SourceDocumentTitle)
						assert.Equal(t, "Bio", *seg.SourceDocumentTitle)
					}
				}
				meta := result.Response.Metadata
				assert.Equal(t, len(tt.segments), meta.TotalSegments)
				assert.Equal(t, tt.wantFilePct, meta.FileUsagePercentage)
				assert.Equal(t, ComputeMetadata(result.Response.Response), meta)
				assert.Equal(t, tt.wantDemoted, observer.actions[ReconcileDemoted])
				assert.Equal(t, tt.wantTitleFix, observer.actions[ReconcileTitleCorrected])
			}

			t.Run("Generate", func(t *testing.T) {
				client := &stubClient{results: map[string]scriptedResult{"model-a": {content: raw}}}
				observer := newCountingObserver()
				g := NewGenerator(client, []string{"model-a"},
					WithGeneratorLogger(discardLogger()),
					WithGeneratorObserver(observer),
				)

				check(t, g.Generate(context.Background(), params), observer)
			})

			t.Run("Stream", func(t *testing.T) {
				client := &stubClient{results: map[string]scriptedResult{"model-a": {chunks: []string{raw}}}}
				observer := newCountingObserver()
				g := NewGenerator(client, []string{"model-a"},
					WithGeneratorLogger(discardLogger()),
					WithGeneratorObserver(observer),
				)

				result, err := g.Stream(context.Background(), params).Wait(context.Background())
				require.NoError(t, err)
				check(t, result, observer)
			})
		})
	}
}

func TestGenerator_Generate_RejectsOutOfRangeOutput(t *testing.T) {
	client := &stubClient{results: map[string]scriptedResult{
		"model-a": {content: `{"response":[],"metadata":{}}`},
		"model-b": {content: `{"response":[{"text":"x","type":"generated","sourceDocumentId":null,"sourceDocumentTitle":null,"confidence":7}]}`},
		"model-c": {content: `{"response":[{"text":"   ","type":"generated","sourceDocumentId":null,"sourceDocumentTitle":null,"confidence":0.5}]}`},
	}}
	g := NewGenerator(client, []string{"model-a", "model-b", "model-c"}, WithGeneratorLogger(discardLogger()))

	result := g.Generate(context.Background(), GenerateParams{UserMessage: "hi"})

	assert.True(t, result.Fallback)
	assert.Len(t, client.calls, 3)
}

func TestGenerator_Generate_AllModelsFail(t *testing.T) {
	docs := []retrieval.RetrievedDocument{
		retrieved(uuid.New(), "Bio", 0.5),
		retrieved(uuid.New(), "Chem", 0.4),
		retrieved(uuid.New(), "Physics", 0.4),
		retrieved(uuid.New(), "History", 0.3),
	}

	tests := []struct {
		name         string
		docs         []retrieval.RetrievedDocument
		wantContains []string
		wantMissing  []string
	}{
		{
			name:         "ドキュメントがある場合は最大3件のタイトルに触れて再試行を促す",
			docs:         docs,
			wantContains: []string{`"Bio"`, `"Chem"`, `"Physics"`, "try asking again"},
			wantMissing:  []string{"History"},
		},
		{
			name:         "ドキュメントがない場合は資料のアップロードを促す",
			docs:         nil,
			wantContains: []string{"uploading your notes"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &stubClient{results: map[string]scriptedResult{
				"model-a": {err: context.DeadlineExceeded},
				"model-b": {err: errors.New("boom")},
			}}
			observer := newCountingObserver()
			g := NewGenerator(client, []string{"model-a", "model-b"},
				WithGeneratorLogger(discardLogger()),
				WithGeneratorObserver(observer),
			)

			result := g.Generate(context.Background(), GenerateParams{UserMessage: "Explain photosynthesis", Documents: tt.docs})

			require.NotNil(t, result)
			assert.True(t, result.Fallback)
			assert.Nil(t, result.TokensUsed)
			assert.Equal(t, 1, observer.fallback)
			assert.Equal(t, 1, observer.attempts["model-a:"+OutcomeTimeout])

			require.Len(t, result.Response.Response, 1)
			seg := result.Response.Response[0]
			assert.Equal(t, SegmentGenerated, seg.Type)
			assert.Equal(t, 1.0, seg.Confidence)
			assert.Nil(t, seg.SourceDocumentID)
			for _, s := range tt.wantContains {
				assert.Contains(t, seg.Text, s)
			}
			for _, s := range tt.wantMissing {
				assert.NotContains(t, seg.Text, s)
			}

			meta := result.Response.Metadata
			assert.Equal(t, 1, meta.TotalSegments)
			assert.Equal(t, 1, meta.GeneratedSegments)
			assert.Equal(t, 0, meta.FileUsagePercentage)
			assert.Equal(t, 1.0, meta.AverageConfidence)
			assert.Empty(t, meta.PrimarySources)
		})
	}
}

func TestGenerator_Generate_CanceledContextReturnsFallback(t *testing.T) {
	client := &stubClient{results: map[string]scriptedResult{}}
	g := NewGenerator(client, []string{"model-a"}, WithGeneratorLogger(discardLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := g.Generate(ctx, GenerateParams{UserMessage: "hi"})
	assert.True(t, result.Fallback)
	assert.Empty(t, client.calls)
}

func TestGenerator_Generate_TrimsAndFlattensHistory(t *testing.T) {
	client := &stubClient{results: map[string]scriptedResult{
		"model-a": {content: validJSON(t, generated("ok", 0.9))},
	}}
	g := NewGenerator(client, []string{"model-a"}, WithGeneratorLogger(discardLogger()))

	stored := validJSON(t, generated("Plants", 0.9), generated("make sugar.", 0.9))
	history := make([]HistoryMessage, 0, 12)
	for i := 0; i < 11; i++ {
		history = append(history, HistoryMessage{Role: RoleUser, Content: "old question"})
	}
	history = append(history, HistoryMessage{Role: RoleAssistant, Content: stored})

	g.Generate(context.Background(), GenerateParams{UserMessage: "and then?", History: history})

	msgs := client.lastReq.Messages
	require.Len(t, msgs, MaxHistoryMessages+1)
	assert.Equal(t, "Plants make sugar.", msgs[len(msgs)-2].Content)
	assert.Equal(t, RoleAssistant, msgs[len(msgs)-2].Role)
	assert.Equal(t, ChatMessage{Role: RoleUser, Content: "and then?"}, msgs[len(msgs)-1])
}

func TestGenerator_Generate_AppliesContextBudget(t *testing.T) {
	doc := retrieved(uuid.New(), "Long Notes", 0.7)
	doc.Content = strings.Repeat("x", 40)
	client := &stubClient{results: map[string]scriptedResult{
		"model-a": {content: validJSON(t, generated("ok", 0.9))},
	}}
	g := NewGenerator(client, []string{"model-a"},
		WithGeneratorLogger(discardLogger()),
		WithContextBudget(runeCounter{}, 12),
	)

	g.Generate(context.Background(), GenerateParams{UserMessage: "q", Documents: []retrieval.RetrievedDocument{doc}})

	assert.Contains(t, client.lastReq.SystemPrompt, strings.Repeat("x", 12)+"...")
	assert.NotContains(t, client.lastReq.SystemPrompt, strings.Repeat("x", 13))
}

func TestDecodeResponse(t *testing.T) {
	t.Run("コードブロックで囲まれた出力も受け付ける", func(t *testing.T) {
		raw := "```json\n" + `{"response":[{"text":"x","type":"generated","sourceDocumentId":null,"sourceDocumentTitle":null,"confidence":0.5}]}` + "\n```"
		resp, err := DecodeResponse(raw)
		require.NoError(t, err)
		assert.Equal(t, "x", resp.Response[0].Text)
	})

	t.Run("空の出力はErrEmptyCompletion", func(t *testing.T) {
		_, err := DecodeResponse("  ")
		assert.ErrorIs(t, err, ErrEmptyCompletion)
	})

	t.Run("未知のtypeはErrSchemaValidation", func(t *testing.T) {
		_, err := DecodeResponse(`{"response":[{"text":"x","type":"quoted","confidence":0.5}]}`)
		require.ErrorIs(t, err, ErrSchemaValidation)
		assert.True(t, strings.Contains(err.Error(), "type"))
	})
}
