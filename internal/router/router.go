package router

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/connexus-ai/docroute/internal/handler"
	"github.com/connexus-ai/docroute/internal/middleware"
)

// Dependencies holds all injected services needed by the router.
type Dependencies struct {
	DB          handler.DBPinger
	Version     string
	Metrics     *middleware.Metrics
	MetricsReg  *prometheus.Registry

	InternalAuthSecret string

	// Admin migrations
	AdminMigrateDeps handler.AdminMigrateDeps

	// Manual/recovery investigation trigger
	InvestigateDeps handler.InvestigateDeps

	// Forwarded-records search, for reporting/admin collaborators
	ForwardedDeps handler.ForwardedDeps

	// Rate limiter for the admin surface (nil = no rate limiting)
	AdminRateLimiter *middleware.RateLimiter
}

// New creates and configures the Chi router with all routes.
//
// The routing investigation engine's primary entrypoint is the
// InvestigationConsumer, not HTTP — this router only exposes the narrow
// admin/health surface: liveness, metrics, schema migration, a manual
// investigation trigger for stuck or failed routes, and a read-only
// forwarded-records search.
func New(deps *Dependencies) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Logging)
	if deps.Metrics != nil {
		r.Use(middleware.Monitoring(deps.Metrics))
	}

	// Public routes (no auth)
	r.Get("/healthz", handler.Health(deps.DB, deps.Version))
	if deps.MetricsReg != nil {
		r.Handle("/metrics", middleware.MetricsHandler(deps.MetricsReg))
	}

	// Admin routes — shared-secret internal auth only, no end-user traffic.
	r.Group(func(r chi.Router) {
		r.Use(middleware.InternalAuth(deps.InternalAuthSecret))
		if deps.AdminRateLimiter != nil {
			r.Use(middleware.RateLimit(deps.AdminRateLimiter))
		}

		timeout60s := middleware.Timeout(60 * time.Second)

		r.With(middleware.Timeout(120 * time.Second)).Post("/api/admin/migrate", handler.AdminMigrate(deps.AdminMigrateDeps))
		r.With(timeout60s).Post("/api/admin/investigate", handler.TriggerInvestigation(deps.InvestigateDeps))
		r.With(timeout60s).Get("/api/admin/forwarded", handler.SearchForwarded(deps.ForwardedDeps))
	})

	// 404 fallback
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": false,
			"error":   "route not found",
		})
	})

	return r
}
