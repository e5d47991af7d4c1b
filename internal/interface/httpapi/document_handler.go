package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/jinford/study-rag/internal/core/document"
)

// DocumentService はハンドラーが使うドキュメントサービス
type DocumentService interface {
	Create(ctx context.Context, params document.CreateParams) (*document.Document, error)
	Get(ctx context.Context, userID, id uuid.UUID) (*document.Document, error)
	List(ctx context.Context, userID uuid.UUID, subjectID mo.Option[uuid.UUID]) ([]*document.Document, error)
	Delete(ctx context.Context, userID, id uuid.UUID) error
}

type documentHandler struct {
	service DocumentService
	logger  *slog.Logger
}

func (h *documentHandler) create(c *gin.Context) {
	var req createDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	doc, err := h.service.Create(c.Request.Context(), document.CreateParams{
		UserID:    userIDFrom(c),
		SubjectID: optionalUUID(req.SubjectID),
		Title:     req.Title,
		Content:   req.Content,
		FileName:  optionalString(req.FileName),
		Metadata:  req.Metadata,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, toDocumentResponse(doc))
}

func (h *documentHandler) list(c *gin.Context) {
	var query listDocumentsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		abortWithError(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	docs, err := h.service.List(c.Request.Context(), userIDFrom(c), optionalUUID(query.SubjectID))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	resp := make([]documentResponse, 0, len(docs))
	for _, d := range docs {
		resp = append(resp, toDocumentResponse(d))
	}
	c.JSON(http.StatusOK, gin.H{"documents": resp})
}

func (h *documentHandler) get(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	doc, err := h.service.Get(c.Request.Context(), userIDFrom(c), id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toDocumentResponse(doc))
}

func (h *documentHandler) delete(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), userIDFrom(c), id); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
