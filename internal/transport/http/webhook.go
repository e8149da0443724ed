package httpt

import (
	"context"
	"io"
	"net/http"
	"time"

	"notifyrelay/internal/provider"

	"github.com/gin-gonic/gin"
	"github.com/wb-go/wbf/logger"
)

// @Summary Verify the webhook subscription
// @Tags Webhooks
// @Produce plain
// @Success 200 {string} string "challenge"
// @Failure 403
// @Router /v1/webhooks/provider [get]
func (h *Handler) VerifyWebhook(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode != "subscribe" || token != h.webhookVerifyToken {
		c.Status(http.StatusForbidden)
		return
	}
	c.String(http.StatusOK, challenge)
}

// @Summary Receive delivery status callbacks
// @Tags Webhooks
// @Accept json
// @Success 200
// @Failure 403
// @Failure 500
// @Router /v1/webhooks/provider [post]
func (h *Handler) HandleWebhook(c *gin.Context) {
	const op = "transport.http.HandleWebhook"

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	if h.webhookAppSecret != "" {
		if !provider.VerifySignature(h.webhookAppSecret, body, c.GetHeader("X-Hub-Signature-256")) {
			c.Status(http.StatusForbidden)
			return
		}
	}

	events, err := provider.ParseStatusCallback(body)
	if err != nil {
		h.log.LogAttrs(c.Request.Context(), logger.WarnLevel, "malformed webhook payload", logger.Any("op", op), logger.Any("error", err.Error()))
		c.Status(http.StatusOK)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := h.callbacks.HandleEvents(ctx, events); err != nil {
		h.log.LogAttrs(c.Request.Context(), logger.ErrorLevel, "webhook processing failed", logger.Any("op", op), logger.Any("error", err.Error()))
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Status(http.StatusOK)
}
