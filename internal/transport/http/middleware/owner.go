package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/IgorGrieder/zurl/internal/constants"
	"github.com/IgorGrieder/zurl/pkg/httputils"
)

// OwnerHeader carries the id of the user the gateway authenticated.
const OwnerHeader = "X-User-Id"

type ownerKey struct{}

// RequireOwner rejects requests without an owner id and stores it in the
// request context.
func RequireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := strings.TrimSpace(r.Header.Get(OwnerHeader))
		if owner == "" {
			httputils.WriteAPIError(w, r, constants.ErrMissingOwner)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), owner)))
	})
}

func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

func OwnerFromContext(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey{}).(string)
	return owner
}
