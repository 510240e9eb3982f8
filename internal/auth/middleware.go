package auth

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

const (
	authorizationHeader = "Authorization"
	bearerPrefix        = "Bearer "
	HeaderTenantID      = "X-Tenant-ID"
	HeaderPrincipalID   = "X-Principal-ID"
)

// RequireTenant injects the caller's identity into the request context. With
// a Manager the identity comes from a verified bearer token; without one it
// is read from the X-Tenant-ID and X-Principal-ID headers.
func RequireTenant(m *Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var tenantID, principalID string
			if m != nil {
				raw := strings.TrimSpace(r.Header.Get(authorizationHeader))
				if !strings.HasPrefix(raw, bearerPrefix) {
					unauthorized(w, "missing bearer token")
					return
				}
				claims, err := m.Verify(strings.TrimPrefix(raw, bearerPrefix), time.Now())
				if err != nil {
					unauthorized(w, "invalid token")
					return
				}
				tenantID, principalID = claims.TenantID, claims.PrincipalID
			} else {
				tenantID = strings.TrimSpace(r.Header.Get(HeaderTenantID))
				principalID = strings.TrimSpace(r.Header.Get(HeaderPrincipalID))
			}
			if tenantID == "" {
				unauthorized(w, "tenant is required")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), tenantID, principalID)))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
