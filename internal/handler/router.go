package handler

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aryan0dhankhar/storelink/internal/observability/metrics"
	"github.com/aryan0dhankhar/storelink/internal/security/middleware"
	"github.com/aryan0dhankhar/storelink/internal/security/ratelimit"
)

// Routes groups the handlers mounted on the app mux
type Routes struct {
	Lifecycle  *LifecycleHandler
	Home       *HomeHandler
	Storefront *StorefrontHandler
	Health     *HealthHandler
	// StorefrontLimiter is optional; when set it limits storefront
	// requests per store hash
	StorefrontLimiter *ratelimit.Limiter
	Logger            *slog.Logger
}

// NewMux registers every route. The returned handler is instrumented with
// HTTP metrics, which must see the mux directly to label by route pattern.
func NewMux(rt Routes) http.Handler {
	logger := rt.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /auth/{provider}/callback", rt.Lifecycle.Install)
	mux.HandleFunc("GET /load", rt.Lifecycle.Load)
	mux.HandleFunc("GET /uninstall", rt.Lifecycle.Uninstall)
	mux.HandleFunc("GET /remove-user", rt.Lifecycle.RemoveUser)
	mux.HandleFunc("GET /events", rt.Lifecycle.Events)

	mux.HandleFunc("GET /{$}", rt.Home.Home)
	mux.HandleFunc("GET /logout", rt.Home.Logout)

	var storefront http.Handler = http.HandlerFunc(rt.Storefront.RecentlyPurchased)
	if rt.StorefrontLimiter != nil {
		byStore := func(r *http.Request) string { return r.PathValue("store_hash") }
		storefront = middleware.RateLimit(rt.StorefrontLimiter, byStore, http.HandlerFunc(Empty), logger)(storefront)
	}
	storefront = middleware.AllowAnyOrigin(storefront)
	mux.Handle("GET /storefront/{store_hash}/customers/{jwt}/recently_purchased.html", storefront)
	mux.Handle("OPTIONS /storefront/{store_hash}/customers/{jwt}/recently_purchased.html", storefront)

	mux.HandleFunc("GET /healthz", rt.Health.Health)
	mux.HandleFunc("GET /readyz", rt.Health.Ready)
	mux.Handle("GET /metrics", promhttp.Handler())

	return metrics.HTTPMetricsMiddleware(mux)
}
