package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/micro-ha/hue-monitor/internal/http/handlers"
)

// Options carries handlers mounted outside the request timeout. Nil fields
// are not mounted.
type Options struct {
	WebSocket  http.HandlerFunc
	Metrics    http.Handler
	Instrument func(http.Handler) http.Handler
}

// NewRouter builds full HTTP routing tree for backend API and static frontend.
func NewRouter(api *handlers.API, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RecoverJSON(api.Logger()))
	r.Use(RequestLogger(api.Logger()))
	if opts.Instrument != nil {
		r.Use(opts.Instrument)
	}

	if opts.WebSocket != nil {
		r.Get("/ws", opts.WebSocket)
	}
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(20 * time.Second))

		r.Get("/healthz", api.Health)
		r.Route("/api", func(apiRouter chi.Router) {
			apiRouter.Get("/sensors", api.ListSensors)
			apiRouter.Get("/lights", api.ListLights)
			apiRouter.Post("/lights/{id}/toggle", func(w http.ResponseWriter, r *http.Request) {
				api.ToggleLight(w, r, chi.URLParam(r, "id"))
			})

			apiRouter.Get("/alerts", api.ListAlerts)
			apiRouter.Post("/alerts/{id}/toggle", func(w http.ResponseWriter, r *http.Request) {
				api.ToggleAlert(w, r, chi.URLParam(r, "id"))
			})
			apiRouter.Post("/alerts/sensors/{name}/toggle", func(w http.ResponseWriter, r *http.Request) {
				api.ToggleSensorAlerts(w, r, chi.URLParam(r, "name"))
			})

			apiRouter.Get("/events", api.ListEvents)
			apiRouter.Get("/history", api.ListHistorySensors)
			apiRouter.Get("/history/{category}/{name}", func(w http.ResponseWriter, r *http.Request) {
				api.GetHistory(w, r, chi.URLParam(r, "category"), chi.URLParam(r, "name"))
			})
			apiRouter.Get("/stats", api.Stats)
			apiRouter.Post("/refresh", api.Refresh)
		})

		r.Get("/*", api.Static)
		r.Get("/", api.Static)
	})
	return r
}

// RunServer starts and gracefully stops HTTP server with context cancellation.
func RunServer(ctx context.Context, server *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil {
			logger.Error("http server failed", "err", err)
			return err
		}
		return nil
	}
}
