package memstore

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jinford/study-rag/internal/core/conversation"
)

// ConversationStore はプロセス内の会話ストア。WithinTx は conversation.Transactor を満たす
type ConversationStore struct {
	mu    sync.Mutex
	state *convState
}

// NewConversationStore は空の ConversationStore を返す
func NewConversationStore() *ConversationStore {
	return &ConversationStore{state: newConvState()}
}

var (
	_ conversation.Repository = (*ConversationStore)(nil)
	_ conversation.Transactor = (*ConversationStore)(nil)
)

func (s *ConversationStore) CreateConversation(ctx context.Context, conv *conversation.Conversation) (*conversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.createConversation(conv), nil
}

func (s *ConversationStore) GetConversation(ctx context.Context, id uuid.UUID) (*conversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.getConversation(id)
}

func (s *ConversationStore) ListConversations(ctx context.Context, userID uuid.UUID) ([]*conversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.listConversations(userID), nil
}

func (s *ConversationStore) UpdateTitle(ctx context.Context, id uuid.UUID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.updateTitle(id, title)
}

func (s *ConversationStore) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.touch(id, at)
}

func (s *ConversationStore) CreateMessage(ctx context.Context, msg *conversation.Message) (*conversation.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.createMessage(assignMessageID(msg))
}

func (s *ConversationStore) ListRecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]*conversation.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.listMessages(conversationID, limit), nil
}

func (s *ConversationStore) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]*conversation.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.listMessages(conversationID, 0), nil
}

// WithinTx は fn の書き込みを作業用コピーに記録し、成功時のみまとめて反映する。
// 反映時は現在の状態に対して書き込みを再実行し、失敗した場合は何も反映しない
func (s *ConversationStore) WithinTx(ctx context.Context, fn func(repo conversation.Repository) error) error {
	s.mu.Lock()
	tx := &txRepo{state: s.state.clone()}
	s.mu.Unlock()

	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.clone()
	for _, op := range tx.ops {
		if err := op(next); err != nil {
			return err
		}
	}
	s.state = next
	return nil
}

// txRepo はトランザクション中の Repository。読み取りは自身の書き込みを含む
type txRepo struct {
	state *convState
	ops   []func(*convState) error
}

func (t *txRepo) record(op func(*convState) error) error {
	if err := op(t.state); err != nil {
		return err
	}
	t.ops = append(t.ops, op)
	return nil
}

func (t *txRepo) CreateConversation(ctx context.Context, conv *conversation.Conversation) (*conversation.Conversation, error) {
	c := *conv
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	var created *conversation.Conversation
	err := t.record(func(st *convState) error {
		created = st.createConversation(&c)
		return nil
	})
	return created, err
}

func (t *txRepo) GetConversation(ctx context.Context, id uuid.UUID) (*conversation.Conversation, error) {
	return t.state.getConversation(id)
}

func (t *txRepo) ListConversations(ctx context.Context, userID uuid.UUID) ([]*conversation.Conversation, error) {
	return t.state.listConversations(userID), nil
}

func (t *txRepo) UpdateTitle(ctx context.Context, id uuid.UUID, title string) error {
	return t.record(func(st *convState) error {
		return st.updateTitle(id, title)
	})
}

func (t *txRepo) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	return t.record(func(st *convState) error {
		return st.touch(id, at)
	})
}

func (t *txRepo) CreateMessage(ctx context.Context, msg *conversation.Message) (*conversation.Message, error) {
	m := assignMessageID(msg)
	var created *conversation.Message
	err := t.record(func(st *convState) error {
		var err error
		created, err = st.createMessage(m)
		return err
	})
	return created, err
}

func (t *txRepo) ListRecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]*conversation.Message, error) {
	return t.state.listMessages(conversationID, limit), nil
}

func (t *txRepo) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]*conversation.Message, error) {
	return t.state.listMessages(conversationID, 0), nil
}

// convState は会話とメッセージの状態。ロックは呼び出し側で取る
type convState struct {
	conversations map[uuid.UUID]conversation.Conversation
	messages      map[uuid.UUID][]*conversation.Message
}

func newConvState() *convState {
	return &convState{
		conversations: make(map[uuid.UUID]conversation.Conversation),
		messages:      make(map[uuid.UUID][]*conversation.Message),
	}
}

// clone はマップとスライスを複製する。メッセージは作成後に変更しないため共有する
func (st *convState) clone() *convState {
	c := &convState{
		conversations: maps.Clone(st.conversations),
		messages:      make(map[uuid.UUID][]*conversation.Message, len(st.messages)),
	}
	for id, msgs := range st.messages {
		c.messages[id] = slices.Clone(msgs)
	}
	return c
}

func (st *convState) createConversation(conv *conversation.Conversation) *conversation.Conversation {
	c := *conv
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	st.conversations[c.ID] = c
	return &c
}

func (st *convState) getConversation(id uuid.UUID) (*conversation.Conversation, error) {
	c, ok := st.conversations[id]
	if !ok {
		return nil, conversation.ErrConversationNotFound
	}
	return &c, nil
}

func (st *convState) listConversations(userID uuid.UUID) []*conversation.Conversation {
	convs := make([]*conversation.Conversation, 0)
	for _, c := range st.conversations {
		if c.UserID == userID {
			conv := c
			convs = append(convs, &conv)
		}
	}
	slices.SortFunc(convs, func(a, b *conversation.Conversation) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return convs
}

func (st *convState) updateTitle(id uuid.UUID, title string) error {
	c, ok := st.conversations[id]
	if !ok {
		return conversation.ErrConversationNotFound
	}
	c.Title = title
	st.conversations[id] = c
	return nil
}

func (st *convState) touch(id uuid.UUID, at time.Time) error {
	c, ok := st.conversations[id]
	if !ok {
		return conversation.ErrConversationNotFound
	}
	c.UpdatedAt = at
	st.conversations[id] = c
	return nil
}

func (st *convState) createMessage(msg *conversation.Message) (*conversation.Message, error) {
	if _, ok := st.conversations[msg.ConversationID]; !ok {
		return nil, conversation.ErrConversationNotFound
	}
	st.messages[msg.ConversationID] = append(st.messages[msg.ConversationID], msg)
	out := *msg
	return &out, nil
}

// listMessages は古い順に直近 limit 件を返す（limit <= 0 は全件）
func (st *convState) listMessages(conversationID uuid.UUID, limit int) []*conversation.Message {
	msgs := st.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]*conversation.Message, 0, len(msgs))
	for _, m := range msgs {
		c := *m
		out = append(out, &c)
	}
	return out
}

func assignMessageID(msg *conversation.Message) *conversation.Message {
	m := *msg
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.Sources = slices.Clone(msg.Sources)
	return &m
}
