package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/IgorGrieder/zurl/internal/config"
	"github.com/IgorGrieder/zurl/internal/infrastructure/telemetry"
	"github.com/IgorGrieder/zurl/internal/processing/folders"
	"github.com/IgorGrieder/zurl/internal/processing/links"
	"github.com/IgorGrieder/zurl/internal/transport/http/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var spanNames = map[string]string{
	"GET /health":                             "health",
	"GET /metrics":                            "metrics",
	"POST /api/links":                         "links.create",
	"GET /api/links":                          "links.list",
	"GET /api/links/{id}":                     "links.get",
	"PATCH /api/links/{id}/active":            "links.set_active",
	"PATCH /api/links/{id}/protection":        "links.set_protection",
	"DELETE /api/links/{id}":                  "links.delete",
	"GET /api/links/{id}/stats":               "links.stats",
	"POST /api/links/{id}/unlock":             "links.unlock",
	"GET /{id}":                               "links.redirect",
	"POST /api/folders":                       "folders.create",
	"GET /api/folders":                        "folders.list",
	"GET /api/folders/{id}":                   "folders.get",
	"PATCH /api/folders/{id}":                 "folders.rename",
	"DELETE /api/folders/{id}":                "folders.delete",
	"POST /api/folders/{id}/links":            "folders.add_links",
	"DELETE /api/folders/{id}/links/{linkId}": "folders.remove_link",
}

// spanName names a server span after the matched route. otelhttp asks again
// once the mux has set r.Pattern, which already includes the method.
func spanName(r *http.Request) string {
	if name, ok := spanNames[r.Pattern]; ok {
		return name
	}
	if r.Pattern != "" {
		return r.Pattern
	}
	path := strings.TrimSpace(r.URL.Path)
	if path == "" {
		path = "/"
	}
	return path
}

// Services are the domain components the router exposes.
type Services struct {
	Links   *links.Service
	Folders *folders.Coordinator
	// Ping checks the storage backend for /health. Optional.
	Ping func(context.Context) error
	// UnlockLimiter counts unlock attempts. Optional.
	UnlockLimiter middleware.WindowCounter
}

type RouterOptions struct {
	EnableCORS    bool
	EnableLogging bool
	EnableMetrics bool

	LinksHandlerOptions LinksHandlerOptions
}

func DefaultRouterOptions(cfg *config.Config) RouterOptions {
	return RouterOptions{
		EnableCORS:    true,
		EnableLogging: true,
		EnableMetrics: true,
		LinksHandlerOptions: LinksHandlerOptions{
			AsyncClick:   cfg.Clicks.Async,
			ClickTimeout: cfg.Clicks.Timeout,
			FastRedirect: false,
		},
	}
}

func NewRouter(cfg *config.Config, svc Services) http.Handler {
	return NewRouterWithOptions(cfg, svc, DefaultRouterOptions(cfg))
}

func NewRouterWithOptions(cfg *config.Config, svc Services, opts RouterOptions) http.Handler {
	mux := http.NewServeMux()

	healthHandler := NewHealthHandler(svc.Ping)
	linksHandler := NewLinksHandlerWithOptions(cfg, svc.Links, opts.LinksHandlerOptions)
	foldersHandler := NewFoldersHandler(svc.Folders, linksHandler)

	mux.HandleFunc("GET /health", healthHandler.Health)
	mux.Handle("GET /metrics", healthHandler.Metrics())

	// Owner-scoped management API.
	api := func(h http.HandlerFunc) http.Handler {
		return middleware.Chain(h,
			middleware.APIKeyMiddleware(cfg.Security.APIKeys),
			middleware.RequireOwner,
		)
	}

	mux.Handle("POST /api/links", api(linksHandler.Create))
	mux.Handle("GET /api/links", api(linksHandler.List))
	mux.Handle("GET /api/links/{id}", api(linksHandler.Get))
	mux.Handle("PATCH /api/links/{id}/active", api(linksHandler.SetActive))
	mux.Handle("PATCH /api/links/{id}/protection", api(linksHandler.SetProtection))
	mux.Handle("DELETE /api/links/{id}", api(linksHandler.Delete))
	mux.Handle("GET /api/links/{id}/stats", api(linksHandler.Stats))

	mux.Handle("POST /api/folders", api(foldersHandler.Create))
	mux.Handle("GET /api/folders", api(foldersHandler.List))
	mux.Handle("GET /api/folders/{id}", api(foldersHandler.Get))
	mux.Handle("PATCH /api/folders/{id}", api(foldersHandler.Rename))
	mux.Handle("DELETE /api/folders/{id}", api(foldersHandler.Delete))
	mux.Handle("POST /api/folders/{id}/links", api(foldersHandler.AddLinks))
	mux.Handle("DELETE /api/folders/{id}/links/{linkId}", api(foldersHandler.RemoveLink))

	// Visitor-facing: no API key, no owner.
	mux.Handle("POST /api/links/{id}/unlock", middleware.RateLimitMiddleware(
		svc.UnlockLimiter,
		int64(cfg.Security.UnlockAttemptsPerMinute),
		middleware.UnlockKey,
	)(http.HandlerFunc(linksHandler.Unlock)))
	mux.HandleFunc("GET /{id}", linksHandler.Redirect)

	var innerHandler http.Handler = mux
	if opts.EnableCORS {
		innerHandler = middleware.CORSMiddleware(cfg.Security.CORSOrigins)(innerHandler)
	}
	if opts.EnableLogging {
		innerHandler = middleware.LoggingMiddleware(innerHandler)
	}
	if opts.EnableMetrics {
		innerHandler = middleware.MetricsMiddleware(innerHandler)
	}

	otelOptions := []otelhttp.Option{
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return spanName(r)
		}),
	}

	if telemetry.TracerProvider != nil {
		otelOptions = append(otelOptions, otelhttp.WithTracerProvider(telemetry.TracerProvider))
	}

	return otelhttp.NewHandler(innerHandler, cfg.App.Name, otelOptions...)
}
