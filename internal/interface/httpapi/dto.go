package httpapi

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/jinford/study-rag/internal/core/answer"
	"github.com/jinford/study-rag/internal/core/conversation"
	"github.com/jinford/study-rag/internal/core/document"
)

// === リクエスト ===

type createConversationRequest struct {
	SubjectID string `json:"subjectId" binding:"omitempty,uuid"`
}

type sendMessageRequest struct {
	Content   string `json:"content" binding:"required"`
	SubjectID string `json:"subjectId" binding:"omitempty,uuid"`
}

type createDocumentRequest struct {
	Title     string         `json:"title" binding:"required,notblank,max=255"`
	Content   string         `json:"content" binding:"required,notblank"`
	SubjectID string         `json:"subjectId" binding:"omitempty,uuid"`
	FileName  string         `json:"fileName" binding:"omitempty,max=255"`
	Metadata  map[string]any `json:"metadata"`
}

type listDocumentsQuery struct {
	SubjectID string `form:"subjectId" binding:"omitempty,uuid"`
}

// optionalUUID はバリデーション済みの文字列を mo.Option に変換する
func optionalUUID(s string) mo.Option[uuid.UUID] {
	if s == "" {
		return mo.None[uuid.UUID]()
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return mo.None[uuid.UUID]()
	}
	return mo.Some(id)
}

func optionalString(s string) mo.Option[string] {
	if s == "" {
		return mo.None[string]()
	}
	return mo.Some(s)
}

// === レスポンス ===

type conversationResponse struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"userId"`
	SubjectID *uuid.UUID `json:"subjectId"`
	Title     string     `json:"title"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

type messageResponse struct {
	ID                 uuid.UUID                     `json:"id"`
	ConversationID     uuid.UUID                     `json:"conversationId"`
	Role               conversation.Role             `json:"role"`
	Content            string                        `json:"content"`
	StructuredResponse *answer.StructuredResponse    `json:"structuredResponse,omitempty"`
	Sources            []uuid.UUID                   `json:"sources"`
	TokenCount         *int                          `json:"tokenCount"`
	Metadata           *conversation.MessageMetadata `json:"metadata"`
	CreatedAt          time.Time                     `json:"createdAt"`
}

type conversationDetailResponse struct {
	conversationResponse
	Messages []messageResponse `json:"messages"`
}

type sourceResponse struct {
	DocumentID uuid.UUID `json:"documentId"`
	Title      string    `json:"title"`
	FileName   *string   `json:"fileName"`
	Similarity float64   `json:"similarity"`
}

type antiHallucinationResponse struct {
	StructuredResponse answer.StructuredResponse `json:"structuredResponse"`
	Model              string                    `json:"model"`
	UsedFallback       bool                      `json:"usedFallback"`
	TokensUsed         *int                      `json:"tokensUsed"`
}

type turnResponse struct {
	UserMessage           messageResponse           `json:"userMessage"`
	AssistantMessage      messageResponse           `json:"assistantMessage"`
	Sources               []sourceResponse          `json:"sources"`
	AntiHallucinationData antiHallucinationResponse `json:"antiHallucinationData"`
}

type documentResponse struct {
	ID           uuid.UUID      `json:"id"`
	SubjectID    *uuid.UUID     `json:"subjectId"`
	Title        string         `json:"title"`
	FileName     *string        `json:"fileName"`
	WordCount    int            `json:"wordCount"`
	PageCount    int            `json:"pageCount"`
	Metadata     map[string]any `json:"metadata"`
	HasEmbedding bool           `json:"hasEmbedding"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

func toConversationResponse(c *conversation.Conversation) conversationResponse {
	return conversationResponse{
		ID:        c.ID,
		UserID:    c.UserID,
		SubjectID: c.SubjectID,
		Title:     c.Title,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func toMessageResponse(m *conversation.Message) messageResponse {
	resp := messageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Role:           m.Role,
		Content:        m.Content,
		Sources:        m.Sources,
		TokenCount:     m.TokenCount,
		Metadata:       m.Metadata,
		CreatedAt:      m.CreatedAt,
	}
	if resp.Sources == nil {
		resp.Sources = []uuid.UUID{}
	}
	if structured, ok := m.StructuredResponse(); ok {
		resp.StructuredResponse = &structured
	}
	return resp
}

func toTurnResponse(r *conversation.TurnResult) turnResponse {
	sources := make([]sourceResponse, 0, len(r.Sources))
	for _, s := range r.Sources {
		sources = append(sources, sourceResponse(s))
	}
	return turnResponse{
		UserMessage:      toMessageResponse(r.UserMessage),
		AssistantMessage: toMessageResponse(r.AssistantMessage),
		Sources:          sources,
		AntiHallucinationData: antiHallucinationResponse{
			StructuredResponse: r.AntiHallucinationData.StructuredResponse,
			Model:              r.AntiHallucinationData.Model,
			UsedFallback:       r.AntiHallucinationData.UsedFallback,
			TokensUsed:         r.AntiHallucinationData.TokensUsed,
		},
	}
}

func toDocumentResponse(d *document.Document) documentResponse {
	return documentResponse{
		ID:           d.ID,
		SubjectID:    d.SubjectID,
		Title:        d.Title,
		FileName:     d.FileName,
		WordCount:    d.WordCount,
		PageCount:    d.PageCount,
		Metadata:     d.Metadata,
		HasEmbedding: d.HasEmbedding(),
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}
