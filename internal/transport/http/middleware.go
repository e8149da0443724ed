package httpt

import (
	"context"
	"net/http"
	"sync"
	"time"

	"notifyrelay/internal/entity"

	"github.com/gin-gonic/gin"
	"github.com/wb-go/wbf/logger"
	"golang.org/x/time/rate"
)

const _tenantKey = "tenant"

func tenantFromContext(c *gin.Context) entity.Tenant {
	return c.MustGet(_tenantKey).(entity.Tenant)
}

func (h *Handler) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := logger.GenerateRequestID()
		ctx := logger.SetRequestID(c.Request.Context(), requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func (h *Handler) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.log.LogAttrs(c.Request.Context(), logger.InfoLevel, "http request", logger.Any("method", c.Request.Method), logger.Any("path", c.Request.URL.Path), logger.Any("status", c.Writer.Status()), logger.Any("duration_ms", time.Since(start).Milliseconds()), logger.Any("client_ip", c.ClientIP()))
	}
}

// authMiddleware implements spec.md §6's `X-API-Key` bearer scheme,
// delegating to TenantRepository.AuthenticateAPIKey.
func (h *Handler) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-API-Key")
		if key == "" {
			h.respondError(c, http.StatusUnauthorized, "unauthorized", entity.ErrInvalidAPIKey, 0)
			c.Abort()
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		tenant, err := h.tenants.AuthenticateAPIKey(ctx, nil, key)
		if err != nil {
			h.respondError(c, http.StatusUnauthorized, "unauthorized", entity.ErrInvalidAPIKey, 0)
			c.Abort()
			return
		}

		c.Set(_tenantKey, *tenant)
		c.Next()
	}
}

// tenantRateLimiter enforces RATE_LIMIT_TENANT_PER_MINUTE from spec.md
// §6 at the HTTP boundary, ahead of C2's per-recipient admission check;
// it is a coarse per-tenant token bucket, distinct in purpose from C2's
// database-backed per-recipient window and from the provider client's
// own local throttle.
type tenantRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	perMin   int
}

func newTenantRateLimiter(perMinute int) *tenantRateLimiter {
	return &tenantRateLimiter{limiters: make(map[string]*rate.Limiter), perMin: perMinute}
}

func (l *tenantRateLimiter) allow(tenantID string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[tenantID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(l.perMin)/60.0), l.perMin)
		l.limiters[tenantID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

func (h *Handler) tenantRateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant := tenantFromContext(c)
		if !h.tenantLimiter.allow(tenant.ID.String()) {
			h.respondError(c, http.StatusTooManyRequests, "rate_limited", entity.ErrRateLimited, 60)
			c.Abort()
			return
		}
		c.Next()
	}
}
