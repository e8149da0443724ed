package httpt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"notifyrelay/internal/config"

	"github.com/wb-go/wbf/logger"
)

// Server wraps the gin engine in a stdlib http.Server so shutdown can be
// driven by context cancellation the way the rest of the runtime's
// supervised tasks are (grounded on the teacher's app.go expecting an
// httpServer.Start(ctx) entry point).
type Server struct {
	httpServer      *http.Server
	log             logger.Logger
	shutdownTimeout time.Duration
}

func NewServer(h *Handler, cfg config.HTTP, log logger.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Host + ":" + cfg.Port,
			Handler:           h.Engine(),
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		},
		log:             log,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
}

func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.LogAttrs(ctx, logger.InfoLevel, "http server starting", logger.Any("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("transport.http.Server.Start: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("transport.http.Server.Start: shutdown: %w", err)
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}
