package middleware

import (
	"net/http"
	"slices"

	"github.com/rs/cors"
)

// CORSMiddleware adds CORS headers using rs/cors. An empty list or "*"
// allows every origin.
func CORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
			http.MethodHead,
		},
		AllowedHeaders: []string{
			"Content-Type",
			"Authorization",
			APIKeyHeader,
			OwnerHeader,
			"Accept",
			"Origin",
			"X-Requested-With",
			"X-Correlation-Id",
			// OpenTelemetry headers
			"traceparent",
			"tracestate",
			"baggage",
		},
		ExposedHeaders:   []string{"X-Correlation-Id", "Location"},
		AllowCredentials: true,
	}

	if len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*") {
		// Echo the origin back so credentials keep working.
		opts.AllowOriginFunc = func(string) bool { return true }
	} else {
		opts.AllowedOrigins = allowedOrigins
	}

	c := cors.New(opts)
	return c.Handler
}
