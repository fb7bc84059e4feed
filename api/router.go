package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig tunes NewRouter.
type RouterConfig struct {
	CORSOrigins    []string
	RequestTimeout time.Duration
	// Metrics is served on /metrics. Nil uses the default prometheus
	// registry.
	Metrics http.Handler
}

// NewRouter creates a chi router serving the points and subscription API.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"https://*", "http://*"}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = promhttp.Handler()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", cfg.Metrics)

	r.Route("/points", func(r chi.Router) {
		r.Post("/charge", h.handleCharge)
		r.Post("/use", h.handleUse)
		r.Post("/refund", h.handleRefund)
		r.Get("/{userId}/balance", h.handleBalance)
		r.Get("/{userId}/transactions", h.handleTransactions)
	})

	r.Route("/subscriptions", func(r chi.Router) {
		r.Post("/activate", h.handleActivate)
		r.Post("/cancel", h.handleCancel)
		r.Post("/process-expired", h.handleProcessExpired)
		r.Post("/process-auto-renewal", h.handleProcessAutoRenewal)
		r.Get("/user/{userId}", h.handleListSubscriptions)
		r.Get("/{subscriptionId}", h.handleGetSubscription)
		r.Post("/{subscriptionId}/reactivate", h.handleReactivate)
	})

	return r
}

// requestLogger logs one line per request through slog.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
