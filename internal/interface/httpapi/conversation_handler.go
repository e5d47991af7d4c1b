package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/jinford/study-rag/internal/core/conversation"
)

// ConversationService はハンドラーが使う会話サービス
type ConversationService interface {
	CreateConversation(ctx context.Context, userID uuid.UUID, subjectID mo.Option[uuid.UUID]) (*conversation.Conversation, error)
	ListConversations(ctx context.Context, userID uuid.UUID) ([]*conversation.Conversation, error)
	GetConversation(ctx context.Context, userID, id uuid.UUID) (*conversation.Detail, error)
	SendMessage(ctx context.Context, params conversation.SendMessageParams) (*conversation.TurnResult, error)
	StreamMessage(ctx context.Context, params conversation.SendMessageParams) (*conversation.TurnStream, error)
}

type conversationHandler struct {
	service ConversationService
	logger  *slog.Logger
}

func (h *conversationHandler) create(c *gin.Context) {
	// ボディは省略可能
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		abortWithError(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	conv, err := h.service.CreateConversation(c.Request.Context(), userIDFrom(c), optionalUUID(req.SubjectID))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, toConversationResponse(conv))
}

func (h *conversationHandler) list(c *gin.Context) {
	convs, err := h.service.ListConversations(c.Request.Context(), userIDFrom(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	resp := make([]conversationResponse, 0, len(convs))
	for _, conv := range convs {
		resp = append(resp, toConversationResponse(conv))
	}
	c.JSON(http.StatusOK, gin.H{"conversations": resp})
}

func (h *conversationHandler) get(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	detail, err := h.service.GetConversation(c.Request.Context(), userIDFrom(c), id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	messages := make([]messageResponse, 0, len(detail.Messages))
	for _, m := range detail.Messages {
		messages = append(messages, toMessageResponse(m))
	}
	c.JSON(http.StatusOK, conversationDetailResponse{
		conversationResponse: toConversationResponse(detail.Conversation),
		Messages:             messages,
	})
}

func (h *conversationHandler) sendMessage(c *gin.Context) {
	params, ok := h.bindSendMessage(c)
	if !ok {
		return
	}

	result, err := h.service.SendMessage(c.Request.Context(), params)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toTurnResponse(result))
}

func (h *conversationHandler) bindSendMessage(c *gin.Context) (conversation.SendMessageParams, bool) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return conversation.SendMessageParams{}, false
	}

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "bad_request", err.Error())
		return conversation.SendMessageParams{}, false
	}

	return conversation.SendMessageParams{
		UserID:         userIDFrom(c),
		ConversationID: id,
		Content:        req.Content,
		SubjectID:      optionalUUID(req.SubjectID),
	}, true
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid_id", "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
