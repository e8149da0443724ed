// Package httpt is C5/C10's HTTP surface, grounded on the teacher's
// internal/transport/http package (gin.New + request-ID/logging
// middleware + setupRoutes), generalized to spec.md §6's full endpoint
// set and API-key tenant auth.
package httpt

import (
	"net/http"

	pgxdriver "github.com/wb-go/wbf/dbpg/pgx-driver"

	"notifyrelay/internal/repository"
	"notifyrelay/internal/service"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"github.com/wb-go/wbf/logger"
)

// queueHealthChecker is satisfied by queue.RabbitAdapter; kept as a
// narrow local interface so this package doesn't need to import
// notifyrelay/internal/queue just for a health probe.
type queueHealthChecker interface {
	Healthy() bool
}

type Handler struct {
	ingest    *service.IngestService
	callbacks *service.CallbackService
	tenants   *repository.TenantRepository
	rateLimit *repository.RateLimitRepository
	db        pgxdriver.QueryExecuter
	cache     *repository.CacheRepository
	queue     queueHealthChecker
	log       logger.Logger
	router    *gin.Engine

	tenantLimiter      *tenantRateLimiter
	webhookVerifyToken string
	webhookAppSecret   string
}

type Deps struct {
	Ingest             *service.IngestService
	Callbacks          *service.CallbackService
	Tenants            *repository.TenantRepository
	RateLimit          *repository.RateLimitRepository
	DB                 pgxdriver.QueryExecuter
	Cache              *repository.CacheRepository
	Queue              queueHealthChecker
	Log                logger.Logger
	TenantPerMinute    int
	WebhookVerifyToken string
	WebhookAppSecret   string
}

func NewHandler(d Deps) *Handler {
	h := &Handler{
		ingest:             d.Ingest,
		callbacks:          d.Callbacks,
		tenants:            d.Tenants,
		rateLimit:          d.RateLimit,
		db:                 d.DB,
		cache:              d.Cache,
		queue:              d.Queue,
		log:                d.Log,
		tenantLimiter:      newTenantRateLimiter(d.TenantPerMinute),
		webhookVerifyToken: d.WebhookVerifyToken,
		webhookAppSecret:   d.WebhookAppSecret,
	}

	router := gin.New()
	router.Use(h.requestIDMiddleware())
	router.Use(h.loggingMiddleware())
	router.Use(gin.Recovery())

	h.router = router
	h.setupRoutes()

	return h
}

// @title           Notification Relay API
// @version         1.0
// @description     Multi-tenant WhatsApp Business API notification dispatch relay.
// @BasePath        /
func (h *Handler) setupRoutes() {
	h.router.GET("/health", h.Health)
	h.router.GET("/v1/health", h.Health)

	h.router.GET("/v1/webhooks/provider", h.VerifyWebhook)
	h.router.POST("/v1/webhooks/provider", h.HandleWebhook)

	v1 := h.router.Group("/v1", h.authMiddleware(), h.tenantRateLimitMiddleware())
	v1.POST("/notifications", h.CreateNotification)
	v1.POST("/notifications/bulk", h.CreateBulk)
	v1.GET("/notifications/:id/status", h.GetStatus)
	v1.GET("/analytics/stats", h.Stats)
	v1.GET("/analytics/notifications", h.ListNotifications)

	h.router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
}

func (h *Handler) Engine() http.Handler { return h.router }
