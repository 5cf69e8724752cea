// Package httpapi composes the public HTTP surface.
package httpapi

import (
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	adminhandler "dncproxy/internal/admin/handler"
	"dncproxy/internal/health"
	"dncproxy/internal/platform/metrics"
	unsubhandler "dncproxy/internal/unsubscribe/handler"
	"dncproxy/pkg/platform/middleware/metadata"
	"dncproxy/pkg/platform/middleware/request"
)

// Deps are the handlers and cross-cutting pieces the router mounts. Admin,
// RateLimit, Metrics and Gatherer may be nil.
type Deps struct {
	Logger         *slog.Logger
	AllowedOrigins []string
	TrustedProxies []netip.Prefix
	AdminTimeout   time.Duration

	Unsubscribe *unsubhandler.Handler
	RateLimit   func(http.Handler) http.Handler
	Admin       *adminhandler.Handler
	Health      *health.Handler

	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

// NewRouter wires all public endpoints. The request ID and client metadata
// are set first so every later middleware and handler can log them.
func NewRouter(d Deps) chi.Router {
	r := chi.NewRouter()
	r.Use(metadata.RequestID)
	r.Use(metadata.RequestTime)
	r.Use(metadata.ClientMetadata(d.TrustedProxies...))
	r.Use(request.Recovery(d.Logger))
	r.Use(request.Logger(d.Logger))
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: d.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		ExposedHeaders: []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:         300,
	}))

	d.Health.Register(r)
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	d.Unsubscribe.Register(r, d.RateLimit)

	// Unsubscribe is excluded: its work is detached from the request and
	// must finish even after the caller has gone.
	if d.Admin != nil {
		r.Group(func(r chi.Router) {
			if d.AdminTimeout > 0 {
				r.Use(chimw.Timeout(d.AdminTimeout))
			}
			d.Admin.Register(r)
		})
	}
	return r
}
