package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/study-rag/internal/core/answer"
	"github.com/jinford/study-rag/internal/core/document"
	"github.com/jinford/study-rag/internal/core/retrieval"
)

type memRepo struct {
	mu            sync.Mutex
	conversations map[uuid.UUID]*Conversation
	messages      []*Message
	failAssistant bool
	titleUpdates  int
}

func newMemRepo() *memRepo {
	return &memRepo{conversations: map[uuid.UUID]*Conversation{}}
}

func (r *memRepo) CreateConversation(ctx context.Context, conv *Conversation) (*Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *conv
	r.conversations[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *memRepo) GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conversations[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	cp := *conv
	return &cp, nil
}

func (r *memRepo) ListConversations(ctx context.Context, userID uuid.UUID) ([]*Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Conversation
	for _, c := range r.conversations {
		if c.UserID == userID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memRepo) UpdateTitle(ctx context.Context, id uuid.UUID, title string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titleUpdates++
	r.conversations[id].Title = title
	return nil
}

func (r *memRepo) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversations[id].UpdatedAt = at
	return nil
}

func (r *memRepo) CreateMessage(ctx context.Context, msg *Message) (*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAssistant && msg.Role == RoleAssistant {
		return nil, errors.New("disk full")
	}
	cp := *msg
	r.messages = append(r.messages, &cp)
	out := cp
	return &out, nil
}

func (r *memRepo) ListRecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]*Message, error) {
	all, _ := r.ListMessages(ctx, conversationID)
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (r *memRepo) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Message
	for _, m := range r.messages {
		if m.ConversationID == conversationID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memRepo) snapshot() []*Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Message(nil), r.messages...)
}

type stubRetriever struct {
	docs   []retrieval.RetrievedDocument
	calls  int
	params retrieval.RetrieveParams
}

func (r *stubRetriever) Retrieve(ctx context.Context, params retrieval.RetrieveParams) []retrieval.RetrievedDocument {
	r.calls++
	r.params = params
	return r.docs
}

// stubModel は常に同じ内容を返すモデルクライアント
type stubModel struct {
	mu       sync.Mutex
	content  string
	err      error
	requests []answer.StructuredRequest
}

func (m *stubModel) GenerateStructured(ctx context.Context, req answer.StructuredRequest) (*answer.Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	return &answer.Completion{Content: m.content, Model: req.Model}, nil
}

func (m *stubModel) StreamStructured(ctx context.Context, req answer.StructuredRequest) (answer.CompletionStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	var chunks []string
	for s := m.content; len(s) > 0; {
		n := min(5, len(s))
		chunks = append(chunks, s[:n])
		s = s[n:]
	}
	return &sliceStream{chunks: chunks, pos: -1}, nil
}

type sliceStream struct {
	chunks []string
	pos    int
}

func (s *sliceStream) Next() bool                { s.pos++; return s.pos < len(s.chunks) }
func (s *sliceStream) Chunk() answer.StreamChunk { return answer.StreamChunk{Delta: s.chunks[s.pos]} }
func (s *sliceStream) Err() error                { return nil }
func (s *sliceStream) Close() error              { return nil }

type wordCounter struct{}

func (wordCounter) CountTokens(text string) int { return len(strings.Fields(text)) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{AddSource: false}))
}

type fixture struct {
	repo      *memRepo
	retriever *stubRetriever
	model     *stubModel
	svc       *Service
	userID    uuid.UUID
	conv      *Conversation
	doc       retrieval.RetrievedDocument
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	userID := uuid.New()
	doc := retrieval.RetrievedDocument{
		Document:   document.Document{ID: uuid.New(), UserID: userID, Title: "Biology Notes", Content: "Photosynthesis converts light energy."},
		Similarity: 0.72,
	}
	id := doc.ID.String()
	title := "Bio"
	ghost := "doc-999"
	content, err := json.Marshal(answer.StructuredResponse{Response: []answer.Segment{
		{Text: "Plants convert light into chemical energy.", Type: answer.SegmentFromFile, SourceDocumentID: &id, SourceDocumentTitle: &title, Confidence: 0.9},
		{Text: "Chlorophyll is green.", Type: answer.SegmentFromFile, SourceDocumentID: &ghost, SourceDocumentTitle: &title, Confidence: 0.9},
		{Text: "This is why leaves look green.", Type: answer.SegmentGenerated, Confidence: 0.7},
	}})
	require.NoError(t, err)

	repo := newMemRepo()
	retriever := &stubRetriever{docs: []retrieval.RetrievedDocument{doc}}
	model := &stubModel{content: string(content)}
	generator := answer.NewGenerator(model, []string{"model-a"}, answer.WithGeneratorLogger(discardLogger()))

	svc := NewService(repo, retriever, generator,
		WithConversationLogger(discardLogger()),
		WithTokenCounter(wordCounter{}),
	)

	conv, err := svc.CreateConversation(context.Background(), userID, mo.None[uuid.UUID]())
	require.NoError(t, err)

	return &fixture{repo: repo, retriever: retriever, model: model, svc: svc, userID: userID, conv: conv, doc: doc}
}

func TestService_SendMessage_FirstExchange(t *testing.T) {
	f := newFixture(t)
	before := f.conv.UpdatedAt

	result, err := f.svc.SendMessage(context.Background(), SendMessageParams{
		UserID:         f.userID,
		ConversationID: f.conv.ID,
		Content:        "  Explain photosynthesis in simple terms for my exam please  ",
	})
	require.NoError(t, err)

	messages := f.repo.snapshot()
	require.Len(t, messages, 2)
	assert.Equal(t, RoleUser, messages[0].Role)
	assert.Equal(t, RoleAssistant, messages[1].Role)
	assert.Equal(t, "Explain photosynthesis in simple terms for my exam please", messages[0].Content)
	assert.Equal(t, []uuid.UUID{f.doc.ID}, messages[0].Sources)
	assert.Equal(t, []uuid.UUID{f.doc.ID}, messages[1].Sources)
	require.NotNil(t, messages[0].TokenCount)
	assert.Equal(t, 9, *messages[0].TokenCount)

	stored, ok := messages[1].StructuredResponse()
	require.True(t, ok)
	assert.Equal(t, result.AntiHallucinationData.StructuredResponse, stored)

	// 出典の補正
	segs := stored.Response
	require.Len(t, segs, 3)
	assert.Equal(t, "Biology Notes", *segs[0].SourceDocumentTitle)
	assert.Equal(t, answer.SegmentGenerated, segs[1].Type)
	assert.Nil(t, segs[1].SourceDocumentID)
	assert.Equal(t, answer.DemotedConfidence, segs[1].Confidence)
	assert.Equal(t, 33, stored.Metadata.FileUsagePercentage)

	require.NotNil(t, messages[1].Metadata)
	assert.True(t, messages[1].Metadata.IsStructured)
	assert.Equal(t, 33, messages[1].Metadata.FileUsagePercentage)

	conv, err := f.repo.GetConversation(context.Background(), f.conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Explain photosynthesis in simple terms for...", conv.Title)
	assert.False(t, conv.UpdatedAt.Before(before))

	assert.Equal(t, f.userID, f.retriever.params.UserID)
	assert.Equal(t, retrieval.DefaultMaxResults, f.retriever.params.MaxResults)
	require.Len(t, result.Sources, 1)
	assert.Equal(t, "Biology Notes", result.Sources[0].Title)
	assert.Equal(t, "model-a", result.AntiHallucinationData.Model)
	assert.False(t, result.AntiHallucinationData.UsedFallback)
}

func TestService_SendMessage_LaterExchangeKeepsTitleAndPassesHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SendMessage(ctx, SendMessageParams{UserID: f.userID, ConversationID: f.conv.ID, Content: "What is photosynthesis?"})
	require.NoError(t, err)
	_, err = f.svc.SendMessage(ctx, SendMessageParams{UserID: f.userID, ConversationID: f.conv.ID, Content: "And respiration?"})
	require.NoError(t, err)

	assert.Equal(t, 1, f.repo.titleUpdates)
	conv, err := f.repo.GetConversation(ctx, f.conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "What is photosynthesis?", conv.Title)

	last := f.model.requests[len(f.model.requests)-1]
	require.Len(t, last.Messages, 3)
	assert.Equal(t, answer.RoleAssistant, last.Messages[1].Role)
	assert.True(t, strings.HasPrefix(last.Messages[1].Content, "Plants convert light"), "保存済みの構造化回答は平文に戻して渡す")
	assert.Equal(t, "And respiration?", last.Messages[2].Content)
}

func TestService_SendMessage_SubjectOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convSubject := uuid.New()
	override := uuid.New()

	conv, err := f.svc.CreateConversation(ctx, f.userID, mo.Some(convSubject))
	require.NoError(t, err)

	_, err = f.svc.SendMessage(ctx, SendMessageParams{UserID: f.userID, ConversationID: conv.ID, Content: "q one"})
	require.NoError(t, err)
	assert.Equal(t, mo.Some(convSubject), f.retriever.params.SubjectID)

	_, err = f.svc.SendMessage(ctx, SendMessageParams{UserID: f.userID, ConversationID: conv.ID, Content: "q two", SubjectID: mo.Some(override)})
	require.NoError(t, err)
	assert.Equal(t, mo.Some(override), f.retriever.params.SubjectID)
}

func TestService_SendMessage_RejectsBeforeAnyWork(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name    string
		params  SendMessageParams
		wantErr error
	}{
		{
			name:    "空のメッセージ",
			params:  SendMessageParams{UserID: f.userID, ConversationID: f.conv.ID, Content: " \n\t"},
			wantErr: ErrEmptyMessage,
		},
		{
			name:    "長すぎるメッセージ",
			params:  SendMessageParams{UserID: f.userID, ConversationID: f.conv.ID, Content: strings.Repeat("x", MaxMessageLength+1)},
			wantErr: ErrMessageTooLong,
		},
		{
			name:    "存在しない会話",
			params:  SendMessageParams{UserID: f.userID, ConversationID: uuid.New(), Content: "hello"},
			wantErr: ErrConversationNotFound,
		},
		{
			name:    "他ユーザーの会話",
			params:  SendMessageParams{UserID: uuid.New(), ConversationID: f.conv.ID, Content: "hello"},
			wantErr: ErrConversationNotFound,
		},
		{
			name:    "会話IDなし",
			params:  SendMessageParams{UserID: f.userID, Content: "hello"},
			wantErr: ErrInvalidID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.SendMessage(context.Background(), tt.params)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, f.repo.snapshot())
			assert.Equal(t, 0, f.retriever.calls)
			assert.Empty(t, f.model.requests)
		})
	}
}

func TestService_SendMessage_AcceptsMaxLength(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SendMessage(context.Background(), SendMessageParams{
		UserID:         f.userID,
		ConversationID: f.conv.ID,
		Content:        strings.Repeat("あ", MaxMessageLength),
	})
	require.NoError(t, err)
}

func TestService_SendMessage_AllModelsFailStillPersists(t *testing.T) {
	f := newFixture(t)
	f.model.err = errors.New("provider down")

	result, err := f.svc.SendMessage(context.Background(), SendMessageParams{UserID: f.userID, ConversationID: f.conv.ID, Content: "Explain photosynthesis"})
	require.NoError(t, err)

	assert.True(t, result.AntiHallucinationData.UsedFallback)
	require.Len(t, f.repo.snapshot(), 2)
	resp := result.AntiHallucinationData.StructuredResponse
	require.Len(t, resp.Response, 1)
	assert.Contains(t, resp.Response[0].Text, "Biology Notes")
	assert.Equal(t, 1.0, resp.Response[0].Confidence)
}

func TestService_SendMessage_AssistantPersistFailure(t *testing.T) {
	f := newFixture(t)
	f.repo.failAssistant = true

	_, err := f.svc.SendMessage(context.Background(), SendMessageParams{UserID: f.userID, ConversationID: f.conv.ID, Content: "Explain photosynthesis"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to save assistant message")

	messages := f.repo.snapshot()
	require.Len(t, messages, 1, "ユーザーメッセージは残る")
	assert.Equal(t, RoleUser, messages[0].Role)
}

func TestService_StreamMessage(t *testing.T) {
	f := newFixture(t)

	ts, err := f.svc.StreamMessage(context.Background(), SendMessageParams{UserID: f.userID, ConversationID: f.conv.ID, Content: "Explain photosynthesis"})
	require.NoError(t, err)
	require.NotNil(t, ts.UserMessage)

	var partials int
	for range ts.Partials() {
		partials++
		// 最終結果が確定するまでアシスタントメッセージは保存されない
		assert.Len(t, f.repo.snapshot(), 1)
	}
	assert.Positive(t, partials)

	select {
	case outcome := <-ts.Done():
		require.NoError(t, outcome.Err)
		assert.Equal(t, RoleAssistant, outcome.Result.AssistantMessage.Role)
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not complete")
	}
	assert.Len(t, f.repo.snapshot(), 2)
}

func TestService_StreamMessage_ConsumerCancelStillCompletes(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	ts, err := f.svc.StreamMessage(ctx, SendMessageParams{UserID: f.userID, ConversationID: f.conv.ID, Content: "Explain photosynthesis"})
	require.NoError(t, err)

	// スナップショットを読まずに切断する
	cancel()

	select {
	case outcome := <-ts.Done():
		require.NoError(t, outcome.Err)
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not complete")
	}
	assert.Len(t, f.repo.snapshot(), 2)
}

func TestService_GetConversationAndRegenerateTitle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SendMessage(ctx, SendMessageParams{UserID: f.userID, ConversationID: f.conv.ID, Content: "one two three four five six seven"})
	require.NoError(t, err)

	detail, err := f.svc.GetConversation(ctx, f.userID, f.conv.ID)
	require.NoError(t, err)
	assert.Len(t, detail.Messages, 2)

	_, err = f.svc.GetConversation(ctx, uuid.New(), f.conv.ID)
	assert.ErrorIs(t, err, ErrConversationNotFound)

	require.NoError(t, f.repo.UpdateTitle(ctx, f.conv.ID, "manual"))
	title, err := f.svc.RegenerateTitle(ctx, f.userID, f.conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "one two three four five six...", title)

	convs, err := f.svc.ListConversations(ctx, f.userID)
	require.NoError(t, err)
	assert.Len(t, convs, 1)
}

func TestTitleFromMessage(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "6語以下はそのまま", content: "What is photosynthesis?", want: "What is photosynthesis?"},
		{name: "ちょうど6語", content: "a b c d e f", want: "a b c d e f"},
		{name: "7語以上は省略記号を付ける", content: "a b c d e f g", want: "a b c d e f..."},
		{name: "空白を正規化する", content: "  a\n\nb\tc ", want: "a b c"},
		{name: "空ならデフォルト", content: "   ", want: DefaultTitle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TitleFromMessage(tt.content))
		})
	}
}
