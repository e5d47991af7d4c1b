package conversation

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/jinford/study-rag/internal/core/answer"
)

var (
	// ErrConversationNotFound は会話が存在しない、または他ユーザーの所有である場合のエラー
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrEmptyMessage はメッセージ本文が空の場合のエラー
	ErrEmptyMessage = errors.New("message content is empty")

	// ErrMessageTooLong はメッセージ本文が MaxMessageLength を超える場合のエラー
	ErrMessageTooLong = errors.New("message content is too long")

	// ErrInvalidID はIDが指定されていない場合のエラー
	ErrInvalidID = errors.New("invalid id")
)

const (
	// MaxMessageLength はユーザーメッセージの最大文字数
	MaxMessageLength = 4000

	// HistoryLimit は生成に渡す直近メッセージ数
	HistoryLimit = 10

	// DefaultTitle は最初のやり取りの前の会話タイトル
	DefaultTitle = "New Conversation"

	// titleWords は自動生成タイトルに使う語数
	titleWords = 6
)

// Role はメッセージの発話者
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Conversation はユーザーと学習アシスタントの会話
type Conversation struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	SubjectID *uuid.UUID
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MessageMetadata はアシスタントメッセージに付与する集計値
type MessageMetadata struct {
	IsStructured        bool    `json:"isStructured"`
	FileUsagePercentage int     `json:"fileUsagePercentage"`
	AverageConfidence   float64 `json:"averageConfidence"`
}

// Message は会話内の1発話。作成後は変更しない
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Role           Role
	// Content はユーザー発話の本文、またはアシスタントの StructuredResponse をJSON化したもの
	Content    string
	Sources    []uuid.UUID
	TokenCount *int
	Metadata   *MessageMetadata
	CreatedAt  time.Time
}

// StructuredResponse はアシスタントメッセージの構造化回答を返す
func (m *Message) StructuredResponse() (answer.StructuredResponse, bool) {
	if m.Role != RoleAssistant {
		return answer.StructuredResponse{}, false
	}
	return answer.ParseStoredResponse(m.Content)
}

// Detail は会話とメッセージ一覧
type Detail struct {
	Conversation *Conversation
	Messages     []*Message
}

// SourceInfo は回答に使われた検索結果の概要
type SourceInfo struct {
	DocumentID uuid.UUID
	Title      string
	FileName   *string
	Similarity float64
}

// AntiHallucinationData は補正済みの構造化回答と生成の詳細
type AntiHallucinationData struct {
	StructuredResponse answer.StructuredResponse
	Model              string
	UsedFallback       bool
	TokensUsed         *int
}

// TurnResult は1往復の結果
type TurnResult struct {
	Conversation          *Conversation
	UserMessage           *Message
	AssistantMessage      *Message
	Sources               []SourceInfo
	AntiHallucinationData AntiHallucinationData
}

// SendMessageParams はメッセージ送信パラメータ
type SendMessageParams struct {
	UserID         uuid.UUID
	ConversationID uuid.UUID
	Content        string
	// SubjectID は指定された場合、会話の科目より優先して検索範囲に使う
	SubjectID mo.Option[uuid.UUID]
}
