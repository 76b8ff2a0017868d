package tenancy

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Middleware returns HTTP middleware that resolves the tenant with resolver,
// activates it through provider and scopes it to the request context. An
// unknown or inactive tenant answers 404 so that tenant existence is not
// disclosed; a malformed request answers 400.
func Middleware(resolver TenantResolver, provider *Provider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tc, err := resolver.Resolve(r)
			if err != nil {
				writeError(w, http.StatusBadRequest, "bad_request", err.Error())
				return
			}

			ctx, err := provider.ActivateContext(r.Context(), tc)
			if err != nil {
				if errors.Is(err, ErrInvalidTenant) {
					writeError(w, http.StatusNotFound, "not_found", "resource not found")
					return
				}
				writeError(w, http.StatusInternalServerError, "internal", "tenant lookup failed")
				return
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewMiddleware is a convenience function that creates middleware with the
// appropriate resolver for the given TenancyMode.
func NewMiddleware(mode TenancyMode, provider *Provider) func(http.Handler) http.Handler {
	return Middleware(NewResolver(mode), provider)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
