package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jinford/study-rag/internal/core/conversation"
	"github.com/jinford/study-rag/internal/infra/postgres/sqlc"
)

// ConversationRepository は conversation.Repository を実装する PostgreSQL リポジトリ
type ConversationRepository struct {
	q sqlc.Querier
}

// NewConversationRepository は新しい ConversationRepository を返す
func NewConversationRepository(q sqlc.Querier) *ConversationRepository {
	return &ConversationRepository{q: q}
}

var _ conversation.Repository = (*ConversationRepository)(nil)

func (r *ConversationRepository) CreateConversation(ctx context.Context, conv *conversation.Conversation) (*conversation.Conversation, error) {
	id := conv.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	row, err := r.q.CreateConversation(ctx, sqlc.CreateConversationParams{
		ID:        UUIDToPgtype(id),
		UserID:    UUIDToPgtype(conv.UserID),
		SubjectID: UUIDPtrToPgtype(conv.SubjectID),
		Title:     conv.Title,
		CreatedAt: TimeToPgtype(conv.CreatedAt),
		UpdatedAt: TimeToPgtype(conv.UpdatedAt),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conversationFromRow(row), nil
}

func (r *ConversationRepository) GetConversation(ctx context.Context, id uuid.UUID) (*conversation.Conversation, error) {
	row, err := r.q.GetConversation(ctx, UUIDToPgtype(id))
	if err != nil {
		if IsNotFound(err) {
			return nil, conversation.ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conversationFromRow(row), nil
}

func (r *ConversationRepository) ListConversations(ctx context.Context, userID uuid.UUID) ([]*conversation.Conversation, error) {
	rows, err := r.q.ListConversationsByUser(ctx, UUIDToPgtype(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	convs := make([]*conversation.Conversation, 0, len(rows))
	for _, row := range rows {
		convs = append(convs, conversationFromRow(row))
	}
	return convs, nil
}

func (r *ConversationRepository) UpdateTitle(ctx context.Context, id uuid.UUID, title string) error {
	affected, err := r.q.UpdateConversationTitle(ctx, sqlc.UpdateConversationTitleParams{
		ID:    UUIDToPgtype(id),
		Title: title,
	})
	if err != nil {
		return fmt.Errorf("failed to update conversation title: %w", err)
	}
	if affected == 0 {
		return conversation.ErrConversationNotFound
	}
	return nil
}

func (r *ConversationRepository) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	affected, err := r.q.TouchConversation(ctx, sqlc.TouchConversationParams{
		ID:        UUIDToPgtype(id),
		UpdatedAt: TimeToPgtype(at),
	})
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	if affected == 0 {
		return conversation.ErrConversationNotFound
	}
	return nil
}

func (r *ConversationRepository) CreateMessage(ctx context.Context, msg *conversation.Message) (*conversation.Message, error) {
	id := msg.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	var metadata []byte
	if msg.Metadata != nil {
		b, err := json.Marshal(msg.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message metadata: %w", err)
		}
		metadata = b
	}

	row, err := r.q.CreateMessage(ctx, sqlc.CreateMessageParams{
		ID:             UUIDToPgtype(id),
		ConversationID: UUIDToPgtype(msg.ConversationID),
		Role:           string(msg.Role),
		Content:        msg.Content,
		Sources:        UUIDsToPgtype(msg.Sources),
		TokenCount:     IntPtrToPgInt4(msg.TokenCount),
		Metadata:       metadata,
		CreatedAt:      TimeToPgtype(msg.CreatedAt),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	return messageFromRow(row), nil
}

func (r *ConversationRepository) ListRecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]*conversation.Message, error) {
	rows, err := r.q.ListRecentMessages(ctx, sqlc.ListRecentMessagesParams{
		ConversationID: UUIDToPgtype(conversationID),
		RowLimit:       int32(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list recent messages: %w", err)
	}
	return messagesFromRows(rows), nil
}

func (r *ConversationRepository) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]*conversation.Message, error) {
	rows, err := r.q.ListMessagesByConversation(ctx, UUIDToPgtype(conversationID))
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messagesFromRows(rows), nil
}

func conversationFromRow(row sqlc.Conversation) *conversation.Conversation {
	return &conversation.Conversation{
		ID:        PgtypeToUUID(row.ID),
		UserID:    PgtypeToUUID(row.UserID),
		SubjectID: PgtypeToUUIDPtr(row.SubjectID),
		Title:     row.Title,
		CreatedAt: PgtypeToTime(row.CreatedAt),
		UpdatedAt: PgtypeToTime(row.UpdatedAt),
	}
}

func messageFromRow(row sqlc.Message) *conversation.Message {
	msg := &conversation.Message{
		ID:             PgtypeToUUID(row.ID),
		ConversationID: PgtypeToUUID(row.ConversationID),
		Role:           conversation.Role(row.Role),
		Content:        row.Content,
		Sources:        PgtypeToUUIDs(row.Sources),
		TokenCount:     PgtypeToIntPtr(row.TokenCount),
		CreatedAt:      PgtypeToTime(row.CreatedAt),
	}
	if len(row.Metadata) > 0 {
		var meta conversation.MessageMetadata
		if err := json.Unmarshal(row.Metadata, &meta); err == nil {
			msg.Metadata = &meta
		}
	}
	return msg
}

func messagesFromRows(rows []sqlc.Message) []*conversation.Message {
	msgs := make([]*conversation.Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, messageFromRow(row))
	}
	return msgs
}
