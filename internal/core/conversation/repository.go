package conversation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository は会話とメッセージの永続化インターフェース
type Repository interface {
	// CreateConversation は会話を作成する
	CreateConversation(ctx context.Context, conv *Conversation) (*Conversation, error)

	// GetConversation はIDで会話を取得する。存在しない場合は ErrConversationNotFound
	GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error)

	// ListConversations はユーザーの会話を更新日時の新しい順に返す
	ListConversations(ctx context.Context, userID uuid.UUID) ([]*Conversation, error)

	// UpdateTitle は会話タイトルを更新する
	UpdateTitle(ctx context.Context, id uuid.UUID, title string) error

	// Touch は会話の更新日時を at に設定する
	Touch(ctx context.Context, id uuid.UUID, at time.Time) error

	// CreateMessage はメッセージを追記する
	CreateMessage(ctx context.Context, msg *Message) (*Message, error)

	// ListRecentMessages は直近 limit 件のメッセージを古い順に返す
	ListRecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]*Message, error)

	// ListMessages は会話の全メッセージを古い順に返す
	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]*Message, error)
}

// Transactor は複数の書き込みを1トランザクションで実行する
type Transactor interface {
	WithinTx(ctx context.Context, fn func(repo Repository) error) error
}
