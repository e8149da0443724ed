// Package metrics exposes the relay's Prometheus instrumentation,
// grounded on Tsuchiya2-catchup-feed-backend's cmd/worker/metrics_server.go
// (a dedicated mux + promhttp.Handler() server supervised alongside the
// rest of the runtime) but scoped to this system's own counters/histograms
// instead of channel circuit-breaker state.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	NotificationsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifyrelay_notifications_created_total",
		Help: "Notifications accepted by the ingest API, by priority.",
	}, []string{"priority"})

	NotificationsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifyrelay_notifications_sent_total",
		Help: "Notifications successfully handed to the WhatsApp provider.",
	})

	NotificationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifyrelay_notifications_failed_total",
		Help: "Notifications that failed a send attempt, by whether the failure was terminal (no further retry).",
	}, []string{"terminal"})

	NotificationsRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifyrelay_notifications_rate_limited_total",
		Help: "Notifications rejected at admission by the per-recipient rate limiter.",
	})

	SendLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "notifyrelay_send_latency_seconds",
		Help:    "Latency of outbound WhatsApp provider send calls.",
		Buckets: prometheus.DefBuckets,
	})

	CallbackEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifyrelay_callback_events_total",
		Help: "Inbound provider delivery-status callbacks processed, by status.",
	}, []string{"status"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "notifyrelay_queue_depth",
		Help: "Approximate number of in-flight work items claimed by the worker pool.",
	})
)

// Server hosts /metrics for Prometheus scraping, supervised the same
// way the rest of the runtime's long-running tasks are.
type Server struct {
	httpServer *http.Server
}

func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &Server{httpServer: &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics.Server.Start: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics.Server.Start: shutdown: %w", err)
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}
