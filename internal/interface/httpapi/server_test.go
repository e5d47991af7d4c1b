package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/study-rag/internal/core/answer"
	"github.com/jinford/study-rag/internal/core/conversation"
	"github.com/jinford/study-rag/internal/core/document"
	"github.com/jinford/study-rag/internal/core/retrieval"
	"github.com/jinford/study-rag/internal/infra/memstore"
	"github.com/jinford/study-rag/internal/platform/metrics"
)

const testSecret = "test-secret"

type fixedEmbedder struct{}

func (fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0, 0}, nil
}

func (fixedEmbedder) Dimension() int { return 4 }

// scriptedModel は常に同じJSONを返すモデルクライアント
type scriptedModel struct {
	content string
	err     error
}

func (m *scriptedModel) GenerateStructured(ctx context.Context, req answer.StructuredRequest) (*answer.Completion, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &answer.Completion{Content: m.content, Model: req.Model}, nil
}

func (m *scriptedModel) StreamStructured(ctx context.Context, req answer.StructuredRequest) (answer.CompletionStream, error) {
	if m.err != nil {
		return nil, m.err
	}
	var chunks []string
	for s := m.content; s != ""; {
		n := min(len(s), 16)
		chunks = append(chunks, s[:n])
		s = s[n:]
	}
	return &chunkStream{chunks: chunks, idx: -1}, nil
}

type chunkStream struct {
	chunks []string
	idx    int
}

func (s *chunkStream) Next() bool {
	s.idx++
	return s.idx < len(s.chunks)
}

func (s *chunkStream) Chunk() answer.StreamChunk {
	return answer.StreamChunk{Delta: s.chunks[s.idx]}
}

func (s *chunkStream) Err() error   { return nil }
func (s *chunkStream) Close() error { return nil }

type testEnv struct {
	server *Server
	auth   *Authenticator
	userID uuid.UUID
	token  string
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func generatedAnswer(t *testing.T) string {
	t.Helper()
	segments := []answer.Segment{{Text: "Mitochondria produce ATP.", Type: answer.SegmentGenerated, Confidence: 0.8}}
	b, err := json.Marshal(answer.StructuredResponse{Response: segments, Metadata: answer.ComputeMetadata(segments)})
	require.NoError(t, err)
	return string(b)
}

func newTestEnv(t *testing.T, model answer.ModelClient) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := discardLogger()

	docStore, err := memstore.NewDocumentStore()
	require.NoError(t, err)
	convStore := memstore.NewConversationStore()

	m := metrics.New()
	retriever := retrieval.NewRetriever(docStore, fixedEmbedder{}, retrieval.WithRetrieverLogger(logger), retrieval.WithTierObserver(m))
	generator := answer.NewGenerator(model, []string{"model-a"}, answer.WithGeneratorLogger(logger), answer.WithGeneratorObserver(m))

	conversations := conversation.NewService(convStore, retriever, generator,
		conversation.WithConversationLogger(logger),
		conversation.WithTransactor(convStore),
	)
	documents := document.NewService(docStore, fixedEmbedder{}, document.WithDocumentLogger(logger))

	auth := NewAuthenticator(testSecret, "study-rag")
	userID := uuid.New()
	token, _, err := auth.GenerateToken(userID, time.Hour)
	require.NoError(t, err)

	server := NewServer(Dependencies{
		Conversations: conversations,
		Documents:     documents,
		Metrics:       m,
	}, auth, WithServerLogger(logger))

	return &testEnv{server: server, auth: auth, userID: userID, token: token}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+e.token)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestServer_Auth(t *testing.T) {
	env := newTestEnv(t, &scriptedModel{content: generatedAnswer(t)})

	otherAuth := NewAuthenticator("other-secret", "study-rag")
	forged, _, err := otherAuth.GenerateToken(env.userID, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "ヘッダーなし", header: "", want: http.StatusUnauthorized},
		{name: "Bearer以外", header: "Basic abc", want: http.StatusUnauthorized},
		{name: "署名不一致", header: "Bearer " + forged, want: http.StatusUnauthorized},
		{name: "正しいトークン", header: "Bearer " + env.token, want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			env.server.Handler().ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestServer_Healthz(t *testing.T) {
	env := newTestEnv(t, &scriptedModel{content: generatedAnswer(t)})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_ConversationTurn(t *testing.T) {
	env := newTestEnv(t, &scriptedModel{content: generatedAnswer(t)})

	rec := env.do(t, http.MethodPost, "/api/v1/documents", `{"title":"Cell biology","content":"Mitochondria are the powerhouse of the cell."}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	doc := decode[documentResponse](t, rec)
	assert.True(t, doc.HasEmbedding)

	rec = env.do(t, http.MethodPost, "/api/v1/conversations", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	conv := decode[conversationResponse](t, rec)
	assert.Equal(t, env.userID, conv.UserID)

	rec = env.do(t, http.MethodPost, "/api/v1/conversations/"+conv.ID.String()+"/messages", `{"content":"What do mitochondria do?"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	turn := decode[turnResponse](t, rec)

	assert.Equal(t, conversation.RoleUser, turn.UserMessage.Role)
	assert.Equal(t, "What do mitochondria do?", turn.UserMessage.Content)
	assert.Equal(t, conversation.RoleAssistant, turn.AssistantMessage.Role)
	require.NotNil(t, turn.AssistantMessage.StructuredResponse)
	assert.Equal(t, "model-a", turn.AntiHallucinationData.Model)
	assert.False(t, turn.AntiHallucinationData.UsedFallback)
	require.Len(t, turn.Sources, 1)
	assert.Equal(t, doc.ID, turn.Sources[0].DocumentID)

	rec = env.do(t, http.MethodGet, "/api/v1/conversations/"+conv.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[conversationDetailResponse](t, rec)
	assert.Len(t, detail.Messages, 2)
	assert.NotEmpty(t, detail.Title)
}

func TestServer_ModelFailureFallsBack(t *testing.T) {
	env := newTestEnv(t, &scriptedModel{err: assert.AnError})

	rec := env.do(t, http.MethodPost, "/api/v1/documents", `{"title":"Cell biology","content":"Mitochondria are the powerhouse of the cell."}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	conv := decode[conversationResponse](t, env.do(t, http.MethodPost, "/api/v1/conversations", ""))

	rec = env.do(t, http.MethodPost, "/api/v1/conversations/"+conv.ID.String()+"/messages", `{"content":"What do mitochondria do?"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	turn := decode[turnResponse](t, rec)
	assert.True(t, turn.AntiHallucinationData.UsedFallback)
	assert.NotEmpty(t, turn.AntiHallucinationData.StructuredResponse.Response)
}

func TestServer_Errors(t *testing.T) {
	env := newTestEnv(t, &scriptedModel{content: generatedAnswer(t)})
	conv := decode[conversationResponse](t, env.do(t, http.MethodPost, "/api/v1/conversations", ""))

	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		wantCode int
		wantErr  string
	}{
		{name: "存在しない会話", method: http.MethodGet, path: "/api/v1/conversations/" + uuid.NewString(), wantCode: http.StatusNotFound, wantErr: "not_found"},
		{name: "不正なID", method: http.MethodGet, path: "/api/v1/conversations/abc", wantCode: http.StatusBadRequest, wantErr: "invalid_id"},
		{name: "本文なし", method: http.MethodPost, path: "/api/v1/conversations/" + conv.ID.String() + "/messages", body: `{}`, wantCode: http.StatusBadRequest, wantErr: "bad_request"},
		{name: "空白のみの本文", method: http.MethodPost, path: "/api/v1/conversations/" + conv.ID.String() + "/messages", body: `{"content":"   "}`, wantCode: http.StatusBadRequest, wantErr: "invalid_request"},
		{name: "長すぎる本文", method: http.MethodPost, path: "/api/v1/conversations/" + conv.ID.String() + "/messages", body: `{"content":"` + strings.Repeat("a", conversation.MaxMessageLength+1) + `"}`, wantCode: http.StatusBadRequest, wantErr: "invalid_request"},
		{name: "不正な科目ID", method: http.MethodPost, path: "/api/v1/conversations", body: `{"subjectId":"nope"}`, wantCode: http.StatusBadRequest, wantErr: "bad_request"},
		{name: "存在しないドキュメント", method: http.MethodDelete, path: "/api/v1/documents/" + uuid.NewString(), wantCode: http.StatusNotFound, wantErr: "not_found"},
		{name: "タイトルなし", method: http.MethodPost, path: "/api/v1/documents", body: `{"content":"x"}`, wantCode: http.StatusBadRequest, wantErr: "bad_request"},
		{name: "空白のみのタイトル", method: http.MethodPost, path: "/api/v1/documents", body: `{"title":"  ","content":"x"}`, wantCode: http.StatusBadRequest, wantErr: "bad_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			resp := decode[errorResponse](t, rec)
			assert.Equal(t, tt.wantErr, resp.Error.Code)
		})
	}
}

func TestServer_OtherUsersConversationIsNotFound(t *testing.T) {
	env := newTestEnv(t, &scriptedModel{content: generatedAnswer(t)})
	conv := decode[conversationResponse](t, env.do(t, http.MethodPost, "/api/v1/conversations", ""))

	other, _, err := env.auth.GenerateToken(uuid.New(), time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations/"+conv.ID.String(), nil)
	req.Header.Set("Authorization", "Bearer "+other)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type sseEvent struct {
	name string
	data string
}

func parseEvents(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	var current sseEvent
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			current.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			current.data += strings.TrimPrefix(line, "data:")
		case line == "" && current.name != "":
			events = append(events, current)
			current = sseEvent{}
		}
	}
	require.NoError(t, scanner.Err())
	if current.name != "" {
		events = append(events, current)
	}
	return events
}

func TestServer_StreamMessage(t *testing.T) {
	env := newTestEnv(t, &scriptedModel{content: generatedAnswer(t)})
	conv := decode[conversationResponse](t, env.do(t, http.MethodPost, "/api/v1/conversations", ""))

	rec := env.do(t, http.MethodPost, "/api/v1/conversations/"+conv.ID.String()+"/messages/stream", `{"content":"What do mitochondria do?"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := parseEvents(t, rec.Body.String())
	require.NotEmpty(t, events)

	last := events[len(events)-1]
	require.Equal(t, eventComplete, last.name, rec.Body.String())
	var turn turnResponse
	require.NoError(t, json.Unmarshal([]byte(last.data), &turn))
	assert.Equal(t, "Mitochondria produce ATP.", turn.AntiHallucinationData.StructuredResponse.Response[0].Text)

	for _, ev := range events[:len(events)-1] {
		assert.Equal(t, eventPartial, ev.name)
		var partial answer.PartialResponse
		assert.NoError(t, json.Unmarshal([]byte(ev.data), &partial))
	}

	detail := decode[conversationDetailResponse](t, env.do(t, http.MethodGet, "/api/v1/conversations/"+conv.ID.String(), ""))
	assert.Len(t, detail.Messages, 2)
}

func TestServer_StreamMessage_NotFound(t *testing.T) {
	env := newTestEnv(t, &scriptedModel{content: generatedAnswer(t)})

	rec := env.do(t, http.MethodPost, "/api/v1/conversations/"+uuid.NewString()+"/messages/stream", `{"content":"hi"}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	env := newTestEnv(t, &scriptedModel{content: generatedAnswer(t)})
	env.do(t, http.MethodGet, "/api/v1/conversations", "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `studyrag_http_requests_total{method="GET",path="/api/v1/conversations",status="200"} 1`)
}
