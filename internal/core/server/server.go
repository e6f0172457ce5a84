package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/pcstream/internal/core/config"
	"github.com/mohammed-shakir/pcstream/internal/core/health"
	middleware "github.com/mohammed-shakir/pcstream/internal/core/middleware"
	"github.com/mohammed-shakir/pcstream/internal/core/router"
)

// Deps are the pieces the HTTP server exposes besides the protocol routes.
type Deps struct {
	Handlers *router.Handlers
	// Metrics is served on the main listener unless cfg.Metrics.Addr is set.
	Metrics http.Handler
	Ready   map[string]health.Pinger
}

// NewRouter builds the chi router: probes, metrics and every protocol
// route below cfg.URLPrefix.
func NewRouter(cfg config.Config, logger *slog.Logger, d Deps) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(2*time.Second, d.Ready))
	if d.Metrics != nil && cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		r.Handle(cfg.Metrics.Path, d.Metrics)
	}

	if cfg.URLPrefix == "" {
		r.Group(d.Handlers.Mount)
	} else {
		r.Route(cfg.URLPrefix, d.Handlers.Mount)
	}
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, d Deps) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(cfg, logger, d),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// hierarchy builds on large tables take a while
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	servers := []*http.Server{srv}
	if d.Metrics != nil && cfg.Metrics.Enabled && cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, d.Metrics)
		servers = append(servers, &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	errCh := make(chan error, len(servers))
	for _, s := range servers {
		go func() {
			logger.Info("http listen", "addr", s.Addr)
			if err := s.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, s := range servers {
			_ = s.Shutdown(shutdownCtx)
		}
		return nil
	case err := <-errCh:
		return err
	}
}
