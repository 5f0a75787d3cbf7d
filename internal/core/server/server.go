package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/sky-coverage/internal/core/config"
	"github.com/mohammed-shakir/sky-coverage/internal/core/health"
	middleware "github.com/mohammed-shakir/sky-coverage/internal/core/middleware"
	"github.com/mohammed-shakir/sky-coverage/internal/core/router"
	"github.com/mohammed-shakir/sky-coverage/internal/metrics"
)

type Deps struct {
	Handlers *router.Handlers
	Metrics  *metrics.Provider // nil or disabled: no metrics route
	Ready    health.Checks
}

// NewHandler assembles the chi router with middleware, probes and the
// coverage routes.
func NewHandler(logger *slog.Logger, d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(d.Ready))
	if d.Metrics != nil && d.Metrics.Enabled() {
		r.Method(http.MethodGet, d.Metrics.Path(), d.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Metrics())
		d.Handlers.Mount(r)
	})
	return r
}

// sets up http and starts serving
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, d Deps) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewHandler(logger, d),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
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
