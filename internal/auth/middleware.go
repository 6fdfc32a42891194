package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"energy-dashboard/internal/observability/metrics"
)

// Middleware authenticates bearer tokens and enforces RBAC.
type Middleware struct {
	Authenticator *Authenticator
	Policy        Policy
}

// NewMiddleware constructs an auth middleware.
func NewMiddleware(authenticator *Authenticator, policy Policy) *Middleware {
	return &Middleware{Authenticator: authenticator, Policy: policy}
}

// Wrap applies auth and RBAC to the handler. The resolved Identity is
// stored in the request context.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil || m.Authenticator == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Policy.IsExempt(r) {
			next.ServeHTTP(w, r)
			return
		}

		required, ok := m.Policy.RequiredRole(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		identity, err := m.Authenticator.Authenticate(r.Context(), ExtractBearer(r))
		if err != nil {
			metrics.IncAuthFailure("http")
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
			return
		}
		if !RoleAtLeast(identity.Role, required) {
			writeError(w, http.StatusForbidden, "access_denied", "role "+string(identity.Role)+" may not perform this action")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// ExtractBearer returns the token of an Authorization: Bearer header.
func ExtractBearer(r *http.Request) string {
	if r == nil {
		return ""
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}
