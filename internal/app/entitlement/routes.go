package entitlementapp

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/aistudyjp/entitlement-service/internal/http/handlers/auth/login"
	"github.com/aistudyjp/entitlement-service/internal/http/handlers/auth/register"
	"github.com/aistudyjp/entitlement-service/internal/http/handlers/billing/verify"
	"github.com/aistudyjp/entitlement-service/internal/http/handlers/billing/webhook"
	"github.com/aistudyjp/entitlement-service/internal/http/handlers/campaign/redeem"
	"github.com/aistudyjp/entitlement-service/internal/http/handlers/entitlement/cancel"
	"github.com/aistudyjp/entitlement-service/internal/http/handlers/entitlement/status"
	"github.com/aistudyjp/entitlement-service/internal/http/handlers/entitlement/trialstart"
	"github.com/aistudyjp/entitlement-service/internal/http/handlers/health"
	"github.com/aistudyjp/entitlement-service/internal/http/middlewarectx"
	authservice "github.com/aistudyjp/entitlement-service/internal/services/auth"
	campaignservice "github.com/aistudyjp/entitlement-service/internal/services/campaign"
	entitlementservice "github.com/aistudyjp/entitlement-service/internal/services/entitlement"
	reconcileservice "github.com/aistudyjp/entitlement-service/internal/services/reconcile"
)

// RouteServices bundles the services the routes need.
type RouteServices struct {
	Auth          *authservice.Service
	Entitlement   *entitlementservice.Service
	Campaign      *campaignservice.Service
	Reconcile     *reconcileservice.Service
	WebhookSecret string
}

// RegisterRoutes registers all application routes.
func RegisterRoutes(r chi.Router, logger *slog.Logger, svcs RouteServices) {
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	r.Route("/api/v1", func(r chi.Router) {
		// Open endpoints
		r.Post("/register", register.New(logger, svcs.Auth).ServeHTTP)
		r.Post("/login", login.New(logger, svcs.Auth).ServeHTTP)
		r.Get("/health", health.New(logger).ServeHTTP)

		// Group behind JWT authentication
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(svcs.Auth, logger))
			r.Use(middlewarectx.RateLimitMiddleware(logger))
			r.Post("/trial", trialstart.New(logger, svcs.Entitlement).ServeHTTP)
			r.Get("/subscription/status", status.New(logger, svcs.Entitlement).ServeHTTP)
			r.Post("/subscription/cancel", cancel.New(logger, svcs.Entitlement).ServeHTTP)
			r.Post("/campaign/redeem", redeem.New(logger, svcs.Campaign).ServeHTTP)
			r.Post("/purchases/verify", verify.New(logger, svcs.Reconcile).ServeHTTP)
		})

		// Webhook endpoint, authenticated by signature
		r.Post("/payments/webhook", webhook.New(logger, svcs.Reconcile, svcs.WebhookSecret).ServeHTTP)
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
