package httpt

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"notifyrelay/internal/entity"

	"github.com/gin-gonic/gin"
	"github.com/wb-go/wbf/logger"
)

func (h *Handler) respondError(c *gin.Context, status int, code string, err error, retryAfterSeconds int) {
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code, RetryAfterSeconds: retryAfterSeconds})
}

// handleServiceError dispatches a service-layer error to the matching
// HTTP status per spec.md §7's error taxonomy, grounded on the
// teacher's errors.Is switch in error_handling.go.
func (h *Handler) handleServiceError(c *gin.Context, op string, err error) {
	ctx := c.Request.Context()

	switch {
	case errors.Is(err, entity.ErrInvalidData), errors.Is(err, entity.ErrInvalidPayload), errors.Is(err, entity.ErrInvalidPhone),
		errors.Is(err, entity.ErrEmptyBatch), errors.Is(err, entity.ErrBatchTooLarge):
		h.respondError(c, http.StatusBadRequest, "invalid_data", err, 0)

	case errors.Is(err, entity.ErrInvalidAPIKey):
		h.respondError(c, http.StatusUnauthorized, "unauthorized", err, 0)

	case errors.Is(err, entity.ErrForbidden):
		h.respondError(c, http.StatusForbidden, "forbidden", err, 0)

	case errors.Is(err, entity.ErrNotificationNotFound), errors.Is(err, entity.ErrTenantNotFound):
		h.respondError(c, http.StatusNotFound, "not_found", err, 0)

	case errors.Is(err, entity.ErrConflictingData):
		h.respondError(c, http.StatusConflict, "conflict", err, 0)

	case errors.Is(err, entity.ErrRateLimited):
		retryAfter := int(h.rateLimit.RetryAfter(time.Now().UTC()).Seconds())
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		h.respondError(c, http.StatusTooManyRequests, "rate_limited", err, retryAfter)

	default:
		h.log.LogAttrs(ctx, logger.ErrorLevel, "internal server error", logger.Any("op", op), logger.Any("error", err.Error()))
		h.respondError(c, http.StatusInternalServerError, "internal_error", errors.New("internal server error"), 0)
	}
}
