package httpapi

import (
	"net/http"
	"strings"

	"gatekit.org/internal/auth"
	"gatekit.org/internal/obs"
)

const authHeader = "Authorization"

var publicPaths = []string{
	"/",
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/info",
}

var publicPrefixes = []string{
	"/v1/auth/",
}

// withAuth verifies the bearer token on every non-public route and stores
// the principal in the request context. It never reveals which part of the
// check failed.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.svc.Guard == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get(authHeader)
		principal, err := a.svc.Guard.Authenticate(header)
		if err != nil {
			obs.CountAuthFailure("unauthorized")
			writeError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		if token, terr := auth.BearerToken(header); terr == nil {
			ctx = auth.ContextWithToken(ctx, token)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
