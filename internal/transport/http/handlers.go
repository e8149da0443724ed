package httpt

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"notifyrelay/internal/entity"
	"notifyrelay/internal/repository"
	"notifyrelay/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const _defaultContextTimeout = 5 * time.Second

// @Summary Create a notification
// @Tags Notifications
// @Accept json
// @Produce json
// @Param request body CreateNotificationRequest true "Notification"
// @Success 201 {object} CreateNotificationResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Router /v1/notifications [post]
func (h *Handler) CreateNotification(c *gin.Context) {
	const op = "transport.http.CreateNotification"

	var dto CreateNotificationRequest
	if err := c.ShouldBindJSON(&dto); err != nil {
		h.respondError(c, http.StatusBadRequest, "invalid_data", err, 0)
		return
	}

	req, err := toCreateRequest(dto)
	if err != nil {
		h.handleServiceError(c, op, err)
		return
	}
	if key := c.GetHeader("Idempotency-Key"); key != "" {
		req.IdempotencyKey = &key
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), _defaultContextTimeout)
	defer cancel()

	result, err := h.ingest.Create(ctx, tenantFromContext(c), req)
	if err != nil {
		h.handleServiceError(c, op, err)
		return
	}

	c.JSON(http.StatusCreated, CreateNotificationResponse{ID: result.ID.String(), Status: result.Status.String()})
}

// @Summary Create up to 100 notifications
// @Tags Notifications
// @Accept json
// @Produce json
// @Param request body BulkCreateRequest true "Notifications"
// @Success 200 {array} BulkEntryResponse
// @Router /v1/notifications/bulk [post]
func (h *Handler) CreateBulk(c *gin.Context) {
	const op = "transport.http.CreateBulk"

	var dto BulkCreateRequest
	if err := c.ShouldBindJSON(&dto); err != nil {
		h.respondError(c, http.StatusBadRequest, "invalid_data", err, 0)
		return
	}

	reqs := make([]service.CreateRequest, 0, len(dto.Notifications))
	for _, n := range dto.Notifications {
		req, err := toCreateRequest(n)
		if err != nil {
			h.handleServiceError(c, op, err)
			return
		}
		reqs = append(reqs, req)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), _defaultContextTimeout)
	defer cancel()

	results, err := h.ingest.CreateBulk(ctx, tenantFromContext(c), reqs)
	if err != nil {
		h.handleServiceError(c, op, err)
		return
	}

	out := make([]BulkEntryResponse, len(results))
	for i, r := range results {
		if r.Err != nil {
			out[i] = BulkEntryResponse{Error: r.Err.Error()}
			continue
		}
		out[i] = BulkEntryResponse{ID: r.Result.ID.String(), Status: r.Result.Status.String()}
	}

	c.JSON(http.StatusOK, out)
}

// @Summary Get notification status and delivery log
// @Tags Notifications
// @Produce json
// @Param id path string true "Notification ID"
// @Success 200 {object} NotificationStatusResponse
// @Failure 404 {object} ErrorResponse
// @Router /v1/notifications/{id}/status [get]
func (h *Handler) GetStatus(c *gin.Context) {
	const op = "transport.http.GetStatus"

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.respondError(c, http.StatusBadRequest, "invalid_data", entity.ErrInvalidData, 0)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), _defaultContextTimeout)
	defer cancel()

	n, logs, err := h.ingest.GetStatus(ctx, tenantFromContext(c), id)
	if err != nil {
		h.handleServiceError(c, op, err)
		return
	}

	c.JSON(http.StatusOK, newNotificationStatusResponse(n, logs))
}

// @Summary List notifications for the calling tenant
// @Tags Analytics
// @Produce json
// @Param status query string false "status filter"
// @Param eventType query string false "event type filter"
// @Param page query int false "page number"
// @Param limit query int false "page size"
// @Success 200 {array} NotificationListItem
// @Router /v1/analytics/notifications [get]
func (h *Handler) ListNotifications(c *gin.Context) {
	const op = "transport.http.ListNotifications"

	f := repository.ListFilter{
		Page:  atoiDefault(c.Query("page"), 0),
		Limit: atoiDefault(c.Query("limit"), 50),
	}
	if s := c.Query("status"); s != "" {
		status := entity.Status(s)
		f.Status = &status
	}
	if et := c.Query("eventType"); et != "" {
		f.EventType = &et
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), _defaultContextTimeout)
	defer cancel()

	notifies, err := h.ingest.ListNotifications(ctx, tenantFromContext(c), f)
	if err != nil {
		h.handleServiceError(c, op, err)
		return
	}

	out := make([]NotificationListItem, len(notifies))
	for i, n := range notifies {
		out[i] = NotificationListItem{
			ID:             n.ID.String(),
			EventType:      n.EventType,
			RecipientPhone: n.RecipientPhone,
			Status:         n.Status.String(),
			Priority:       string(n.Priority),
			CreatedAt:      n.CreatedAt,
		}
	}

	c.JSON(http.StatusOK, out)
}

// @Summary Aggregate delivery stats for the calling tenant
// @Tags Analytics
// @Produce json
// @Param startDate query string true "RFC3339 start"
// @Param endDate query string true "RFC3339 end"
// @Success 200 {object} StatsResponse
// @Router /v1/analytics/stats [get]
func (h *Handler) Stats(c *gin.Context) {
	const op = "transport.http.Stats"

	start, err := time.Parse(time.RFC3339, c.Query("startDate"))
	if err != nil {
		h.respondError(c, http.StatusBadRequest, "invalid_data", entity.ErrInvalidData, 0)
		return
	}
	end, err := time.Parse(time.RFC3339, c.Query("endDate"))
	if err != nil {
		h.respondError(c, http.StatusBadRequest, "invalid_data", entity.ErrInvalidData, 0)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), _defaultContextTimeout)
	defer cancel()

	s, err := h.ingest.Stats(ctx, tenantFromContext(c), start, end)
	if err != nil {
		h.handleServiceError(c, op, err)
		return
	}

	c.JSON(http.StatusOK, StatsResponse{
		Total: s.Total, Sent: s.Sent, Failed: s.Failed,
		Delivered: s.Delivered, Read: s.Read, AvgLatencyMs: s.AvgLatencyMs,
	})
}

// @Summary Liveness and dependency health
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /health [get]
func (h *Handler) Health(c *gin.Context) {
	checks := map[string]string{}
	healthy := true

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if _, err := h.db.Exec(ctx, "SELECT 1"); err != nil {
		checks["database"] = err.Error()
		healthy = false
	} else {
		checks["database"] = "ok"
	}

	if err := h.cache.Ping(ctx); err != nil {
		checks["cache"] = err.Error()
		healthy = false
	} else {
		checks["cache"] = "ok"
	}

	if h.queue == nil || !h.queue.Healthy() {
		checks["queue"] = "unavailable"
		healthy = false
	} else {
		checks["queue"] = "ok"
	}

	status := http.StatusOK
	statusText := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		statusText = "unhealthy"
	}
	c.JSON(status, HealthResponse{Status: statusText, Checks: checks})
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
