package routes

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bastionsec/bastion/internal/handlers"
	"github.com/bastionsec/bastion/internal/middleware"
	"github.com/bastionsec/bastion/internal/services"
	pkghttp "github.com/bastionsec/bastion/pkg/http"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	statsHandler *handlers.StatsHandler,
	healthHandler *handlers.HealthHandler,
	guard *services.GuardService,
	ipConfig *pkghttp.IPConfig,
) {
	rateLimitConfig := middleware.DefaultAuthRateLimit()

	router.Route("/v1", func(r chi.Router) {
		// The source guard runs before the per-IP limiter: a banned source
		// gets its Retry-After answer even when it is under the request rate.
		r.With(
			middleware.SourceGuard(guard, ipConfig),
			middleware.RateLimitByIP(rateLimitConfig),
		).Post("/auth/login", authHandler.Login)

		r.Get("/stats", statsHandler.GetStats)
	})

	router.Get("/health", healthHandler.GetHealth)
	router.Handle("/metrics", promhttp.Handler())
}
