package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/speedtiles/internal/core/config"
	"github.com/mohammed-shakir/speedtiles/internal/core/health"
	middleware "github.com/mohammed-shakir/speedtiles/internal/core/middleware"
	"github.com/mohammed-shakir/speedtiles/internal/core/router"
)

// NewHandler builds the chi router with probes, metrics and the API.
func NewHandler(logger *slog.Logger, api *router.API, ready health.ReadinessReporter) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	if ready != nil {
		r.Get("/readyz", health.Readiness(ready))
	}
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	api.Register(r)
	return r
}

// sets up http and starts serving
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, handler http.Handler) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return serve(ctx, logger, srv)
}

// serve runs srv until ctx is done, then shuts it down gracefully.
func serve(ctx context.Context, logger *slog.Logger, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// RunAux serves an auxiliary listener such as the metrics endpoint. A nil
// server is a no-op.
func RunAux(ctx context.Context, logger *slog.Logger, srv *http.Server) error {
	if srv == nil {
		return nil
	}
	return serve(ctx, logger, srv)
}
