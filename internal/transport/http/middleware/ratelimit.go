package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/IgorGrieder/zurl/internal/constants"
	"github.com/IgorGrieder/zurl/internal/infrastructure/logger"
	"github.com/IgorGrieder/zurl/pkg/httputils"
	"go.uber.org/zap"
)

// WindowCounter increments a per-key counter for the current window.
type WindowCounter interface {
	Incr(ctx context.Context, key string) (int64, error)
}

// KeyFunc derives the rate limit key for a request.
type KeyFunc func(r *http.Request) string

// RateLimitMiddleware rejects requests once a key exceeds limit within the
// counter's window. It fails open when the counter is unavailable.
func RateLimitMiddleware(counter WindowCounter, limit int64, keyFn KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if counter == nil || limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), 200*time.Millisecond)
			defer cancel()

			count, err := counter.Incr(ctx, keyFn(r))
			if err != nil {
				logger.Warn("rate limit counter unavailable", zap.Error(err), zap.String("path", r.URL.Path))
				next.ServeHTTP(w, r)
				return
			}
			if count > limit {
				httputils.WriteAPIError(w, r, constants.ErrRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UnlockKey scopes unlock attempts to the link and the client address.
func UnlockKey(r *http.Request) string {
	return r.PathValue("id") + ":" + clientIP(r)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return "unknown"
}
