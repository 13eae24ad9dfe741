package api

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"

	apiContext "divgate/internal/api/context"
	"divgate/internal/api/handlers"
	"divgate/internal/api/middleware"
	"divgate/internal/engine/tiers"
	"divgate/internal/pkg/errors"
	"divgate/internal/pkg/metrics"
	"divgate/internal/platform/auth"
)

type Dependencies struct {
	DividendHandler *handlers.DividendHandler
	UsageHandler    *handlers.UsageHandler
	TierHandler     *handlers.TierHandler
	APIKeyHandler   *handlers.APIKeyHandler
	AuditHandler    *handlers.AuditHandler
	AuthHandler     *handlers.AuthHandler
	HealthHandler   *handlers.HealthHandler
	MetricsHandler  *handlers.MetricsHandler
	Admission       *middleware.Admission
	AuthMiddleware  *middleware.AuthMiddleware
	Metrics         *metrics.Collector
}

func NewRouter(deps *Dependencies) *httprouter.Router {
	router := httprouter.New()
	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Route not found", nil)
	})
	router.PanicHandler = func(w http.ResponseWriter, r *http.Request, v interface{}) {
		log.Error().Interface("panic", v).Str("path", r.URL.Path).Msg("handler panicked")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Internal error", nil)
	}

	m := deps.Metrics
	admit := deps.Admission

	// Operational
	router.GET("/healthz", wrap(deps.HealthHandler.Check))
	router.GET("/metrics", wrap(deps.MetricsHandler.Export))

	// Public API, every call is admitted against the caller's tier
	router.GET("/v1/dividends/:symbol",
		chain(deps.DividendHandler.History,
			middleware.Observe(m, "/v1/dividends/:symbol"),
			admit.Require("/v1/dividends/:symbol", middleware.HistoryFrom("from"))))
	router.GET("/v1/dividends/:symbol/intraday",
		chain(deps.DividendHandler.Intraday,
			middleware.Observe(m, "/v1/dividends/:symbol/intraday"),
			admit.Require("/v1/dividends/:symbol/intraday", middleware.Capability(tiers.FeatureIntraday))))
	router.GET("/v1/bulk/dividends",
		chain(deps.DividendHandler.Bulk,
			middleware.Observe(m, "/v1/bulk/dividends"),
			admit.Require("/v1/bulk/dividends", middleware.Capability(tiers.FeatureBulk), middleware.HistoryFrom("from"))))
	router.GET("/v1/usage",
		chain(deps.UsageHandler.Get,
			middleware.Observe(m, "/v1/usage"),
			admit.Require("/v1/usage")))

	// Admin API
	authMid := deps.AuthMiddleware
	adminOnly := middleware.RequireRole(auth.RoleAdmin)

	router.POST("/admin/v1/login",
		chain(deps.AuthHandler.Login, middleware.Observe(m, "/admin/v1/login")))
	router.GET("/admin/v1/tiers",
		chain(deps.TierHandler.List, authMid.Handle, adminOnly))
	router.POST("/admin/v1/keys",
		chain(deps.APIKeyHandler.Create, authMid.Handle, adminOnly))
	router.DELETE("/admin/v1/keys/:key_id",
		chain(deps.APIKeyHandler.Revoke, authMid.Handle, adminOnly))
	router.POST("/admin/v1/keys/:key_id/rotate",
		chain(deps.APIKeyHandler.Rotate, authMid.Handle, adminOnly))
	router.GET("/admin/v1/accounts/:account_id/keys",
		chain(deps.APIKeyHandler.List, authMid.Handle, adminOnly))
	router.GET("/admin/v1/accounts/:account_id/audit",
		chain(deps.AuditHandler.List, authMid.Handle, adminOnly))

	return router
}

// Helper function to chain middlewares
func chain(handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(handler)
}

// Convert http.HandlerFunc to httprouter.Handle
func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		// Inject params into context
		ctx := context.WithValue(r.Context(), apiContext.Params, ps)
		handler(w, r.WithContext(ctx))
	}
}
