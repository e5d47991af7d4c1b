package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jinford/study-rag/internal/core/conversation"
	"github.com/jinford/study-rag/internal/core/document"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorResponse{Error: errorBody{Code: code, Message: message}})
}

// classifyError はドメインのエラーをHTTPステータスとエラーコードに変換する
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, conversation.ErrConversationNotFound),
		errors.Is(err, document.ErrDocumentNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, conversation.ErrEmptyMessage),
		errors.Is(err, conversation.ErrMessageTooLong),
		errors.Is(err, conversation.ErrInvalidID),
		errors.Is(err, document.ErrEmptyContent):
		return http.StatusBadRequest, "invalid_request"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeError はエラーをJSONで返す。500 の場合は詳細を隠してログに残す
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	status, code := classifyError(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "path", c.Request.URL.Path, "requestID", c.GetString(requestIDKey), "error", err)
		message = http.StatusText(status)
	}
	abortWithError(c, status, code, message)
}
