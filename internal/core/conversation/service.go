package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/jinford/study-rag/internal/core/answer"
	"github.com/jinford/study-rag/internal/core/retrieval"
)

// Retriever は関連ドキュメント検索のインターフェース
type Retriever interface {
	Retrieve(ctx context.Context, params retrieval.RetrieveParams) []retrieval.RetrievedDocument
}

// Responder は構造化回答生成のインターフェース
type Responder interface {
	Generate(ctx context.Context, params answer.GenerateParams) *answer.Result
	Stream(ctx context.Context, params answer.GenerateParams) *answer.Stream
}

// TokenCounter はテキストのトークン数を数える
type TokenCounter interface {
	CountTokens(text string) int
}

// Service は会話の1往復（検索、生成、補正、保存）を調停する
type Service struct {
	repo       Repository
	tx         Transactor
	retriever  Retriever
	responder  Responder
	reconciler *answer.Reconciler
	tokens     TokenCounter
	maxResults int
	// streamTimeout はクライアント切断後も継続するストリーミング生成の上限時間
	streamTimeout time.Duration
	now           func() time.Time
	logger        *slog.Logger
}

type ServiceOption func(*Service)

// WithConversationLogger は Service にロガーを設定する
func WithConversationLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithTransactor はアシスタントメッセージ保存とタイトル更新をまとめるトランザクションを設定する
func WithTransactor(tx Transactor) ServiceOption {
	return func(s *Service) {
		s.tx = tx
	}
}

// WithReconciler は補正処理を設定する
func WithReconciler(reconciler *answer.Reconciler) ServiceOption {
	return func(s *Service) {
		s.reconciler = reconciler
	}
}

// WithTokenCounter はユーザーメッセージのトークン数計測を設定する
func WithTokenCounter(counter TokenCounter) ServiceOption {
	return func(s *Service) {
		s.tokens = counter
	}
}

// WithMaxResults は1往復で検索するドキュメントの上限を設定する
func WithMaxResults(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.maxResults = n
		}
	}
}

// WithStreamTimeout はストリーミング生成の上限時間を設定する
func WithStreamTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.streamTimeout = d
		}
	}
}

// WithClock は現在時刻の取得方法を設定する
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// NewService は新しいServiceを作成する
func NewService(repo Repository, retriever Retriever, responder Responder, opts ...ServiceOption) *Service {
	svc := &Service{
		repo:          repo,
		retriever:     retriever,
		responder:     responder,
		maxResults:    retrieval.DefaultMaxResults,
		streamTimeout: 3 * time.Minute,
		now:           time.Now,
		logger:        slog.Default(),
	}

	for _, opt := range opts {
		opt(svc)
	}

	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	if svc.reconciler == nil {
		svc.reconciler = answer.NewReconciler(nil)
	}

	return svc
}

// CreateConversation は新しい会話を作成する
func (s *Service) CreateConversation(ctx context.Context, userID uuid.UUID, subjectID mo.Option[uuid.UUID]) (*Conversation, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: userID is required", ErrInvalidID)
	}

	now := s.now()
	conv := &Conversation{
		ID:        uuid.New(),
		UserID:    userID,
		Title:     DefaultTitle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if sid, ok := subjectID.Get(); ok {
		conv.SubjectID = &sid
	}

	created, err := s.repo.CreateConversation(ctx, conv)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return created, nil
}

// ListConversations はユーザーの会話一覧を返す
func (s *Service) ListConversations(ctx context.Context, userID uuid.UUID) ([]*Conversation, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: userID is required", ErrInvalidID)
	}

	convs, err := s.repo.ListConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return convs, nil
}

// GetConversation は所有者を確認して会話とメッセージを返す
func (s *Service) GetConversation(ctx context.Context, userID, id uuid.UUID) (*Detail, error) {
	conv, err := s.loadOwned(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	messages, err := s.repo.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	return &Detail{Conversation: conv, Messages: messages}, nil
}

// RegenerateTitle は最初のユーザーメッセージから会話タイトルを作り直す
func (s *Service) RegenerateTitle(ctx context.Context, userID, id uuid.UUID) (string, error) {
	conv, err := s.loadOwned(ctx, userID, id)
	if err != nil {
		return "", err
	}

	messages, err := s.repo.ListMessages(ctx, conv.ID)
	if err != nil {
		return "", fmt.Errorf("failed to list messages: %w", err)
	}

	title := DefaultTitle
	for _, m := range messages {
		if m.Role == RoleUser {
			title = TitleFromMessage(m.Content)
			break
		}
	}

	if err := s.repo.UpdateTitle(ctx, conv.ID, title); err != nil {
		return "", fmt.Errorf("failed to update title: %w", err)
	}
	return title, nil
}

// turn は生成前までに確定した1往復の状態
type turn struct {
	conversation *Conversation
	history      []*Message
	documents    []retrieval.RetrievedDocument
	userMessage  *Message
	content      string
}

func (t *turn) generateParams() answer.GenerateParams {
	history := make([]answer.HistoryMessage, 0, len(t.history))
	for _, m := range t.history {
		history = append(history, answer.HistoryMessage{
			Role:    answer.Role(m.Role),
			Content: m.Content,
		})
	}
	return answer.GenerateParams{
		UserMessage: t.content,
		History:     history,
		Documents:   t.documents,
	}
}

// SendMessage はユーザーメッセージに対する回答を生成し、両方のメッセージを保存する。
// 呼び出し元に返るエラーは入力検証、会話の不在、永続化の失敗のみ
func (s *Service) SendMessage(ctx context.Context, params SendMessageParams) (*TurnResult, error) {
	t, err := s.prepare(ctx, params)
	if err != nil {
		return nil, err
	}

	result := s.responder.Generate(ctx, t.generateParams())
	return s.complete(ctx, t, result)
}

// prepare は検証、履歴取得、検索、ユーザーメッセージ保存を行う
func (s *Service) prepare(ctx context.Context, params SendMessageParams) (*turn, error) {
	content := strings.TrimSpace(params.Content)
	if content == "" {
		return nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return nil, fmt.Errorf("%w: %d characters (max %d)", ErrMessageTooLong, utf8.RuneCountInString(content), MaxMessageLength)
	}

	conv, err := s.loadOwned(ctx, params.UserID, params.ConversationID)
	if err != nil {
		return nil, err
	}

	logger := s.logger.With("conversationID", conv.ID.String(), "userID", conv.UserID.String())

	// 1. 直近の履歴
	history, err := s.repo.ListRecentMessages(ctx, conv.ID, HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	// 2. 検索（指定があれば会話の科目より優先する）
	subjectID := params.SubjectID
	if subjectID.IsAbsent() && conv.SubjectID != nil {
		subjectID = mo.Some(*conv.SubjectID)
	}
	docs := s.retriever.Retrieve(ctx, retrieval.RetrieveParams{
		Query:      content,
		UserID:     conv.UserID,
		SubjectID:  subjectID,
		MaxResults: s.maxResults,
	})
	logger.Info("documents retrieved", "count", len(docs))

	// 3. ユーザーメッセージの保存
	userMessage := &Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		Role:           RoleUser,
		Content:        content,
		Sources:        retrieval.IDs(docs),
		CreatedAt:      s.now(),
	}
	if s.tokens != nil {
		n := s.tokens.CountTokens(content)
		userMessage.TokenCount = &n
	}

	userMessage, err = s.repo.CreateMessage(ctx, userMessage)
	if err != nil {
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}

	return &turn{
		conversation: conv,
		history:      history,
		documents:    docs,
		userMessage:  userMessage,
		content:      content,
	}, nil
}

// complete は回答を補正し、アシスタントメッセージ保存、初回タイトル設定、更新日時の更新を行う
func (s *Service) complete(ctx context.Context, t *turn, result *answer.Result) (*TurnResult, error) {
	// 4. 出典の補正
	reconciled := s.reconciler.Reconcile(result.Response, t.documents)

	serialized, err := reconciled.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize response: %w", err)
	}

	assistantMessage := &Message{
		ID:             uuid.New(),
		ConversationID: t.conversation.ID,
		Role:           RoleAssistant,
		Content:        serialized,
		Sources:        retrieval.IDs(t.documents),
		TokenCount:     result.TokensUsed,
		Metadata: &MessageMetadata{
			IsStructured:        true,
			FileUsagePercentage: reconciled.Metadata.FileUsagePercentage,
			AverageConfidence:   reconciled.Metadata.AverageConfidence,
		},
		CreatedAt: s.now(),
	}

	conv := *t.conversation
	firstExchange := len(t.history) == 0

	err = s.withinTx(ctx, func(repo Repository) error {
		// 5. アシスタントメッセージの保存
		saved, err := repo.CreateMessage(ctx, assistantMessage)
		if err != nil {
			return fmt.Errorf("failed to save assistant message: %w", err)
		}
		assistantMessage = saved

		// 6. 最初のやり取りではタイトルを付ける
		if firstExchange {
			title := TitleFromMessage(t.content)
			if err := repo.UpdateTitle(ctx, conv.ID, title); err != nil {
				return fmt.Errorf("failed to update title: %w", err)
			}
			conv.Title = title
		}

		// 7. 更新日時
		conv.UpdatedAt = s.now()
		if err := repo.Touch(ctx, conv.ID, conv.UpdatedAt); err != nil {
			return fmt.Errorf("failed to touch conversation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("message exchange completed",
		"conversationID", conv.ID.String(),
		"model", result.Model,
		"fallback", result.Fallback,
		"segments", reconciled.Metadata.TotalSegments,
		"fileUsagePercentage", reconciled.Metadata.FileUsagePercentage,
	)

	return &TurnResult{
		Conversation:     &conv,
		UserMessage:      t.userMessage,
		AssistantMessage: assistantMessage,
		Sources:          sourceInfos(t.documents),
		AntiHallucinationData: AntiHallucinationData{
			StructuredResponse: reconciled,
			Model:              result.Model,
			UsedFallback:       result.Fallback,
			TokensUsed:         result.TokensUsed,
		},
	}, nil
}

func (s *Service) withinTx(ctx context.Context, fn func(repo Repository) error) error {
	if s.tx == nil {
		return fn(s.repo)
	}
	return s.tx.WithinTx(ctx, fn)
}

// loadOwned は会話を取得し、所有者が異なる場合は存在しないものとして扱う
func (s *Service) loadOwned(ctx context.Context, userID, id uuid.UUID) (*Conversation, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: userID is required", ErrInvalidID)
	}
	if id == uuid.Nil {
		return nil, fmt.Errorf("%w: conversationID is required", ErrInvalidID)
	}

	conv, err := s.repo.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv.UserID != userID {
		return nil, ErrConversationNotFound
	}
	return conv, nil
}

func sourceInfos(docs []retrieval.RetrievedDocument) []SourceInfo {
	out := make([]SourceInfo, 0, len(docs))
	for _, d := range docs {
		out = append(out, SourceInfo{
			DocumentID: d.ID,
			Title:      d.Title,
			FileName:   d.FileName,
			Similarity: d.Similarity,
		})
	}
	return out
}
