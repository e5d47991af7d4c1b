package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SSE のイベント名
const (
	eventPartial  = "partial"
	eventComplete = "complete"
	eventError    = "error"
)

// streamMessage は生成途中のスナップショットを partial イベントで送り、
// 保存済みの1往復を complete イベントで送って終了する
func (h *conversationHandler) streamMessage(c *gin.Context) {
	params, ok := h.bindSendMessage(c)
	if !ok {
		return
	}

	ts, err := h.service.StreamMessage(c.Request.Context(), params)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	ctx := c.Request.Context()
	partials := ts.Partials()
	for {
		select {
		case p, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			c.SSEvent(eventPartial, p)
			c.Writer.Flush()

		case outcome := <-ts.Done():
			// Done の時点で Partials は閉じているので残りを先に送る
			if partials != nil {
				for p := range partials {
					c.SSEvent(eventPartial, p)
				}
			}
			if outcome.Err != nil {
				h.logger.Error("streamed message failed", "conversationID", params.ConversationID.String(), "error", outcome.Err)
				c.SSEvent(eventError, errorBody{Code: "internal_error", Message: http.StatusText(http.StatusInternalServerError)})
			} else {
				c.SSEvent(eventComplete, toTurnResponse(outcome.Result))
			}
			c.Writer.Flush()
			return

		case <-ctx.Done():
			ts.Stop()
			return
		}
	}
}
