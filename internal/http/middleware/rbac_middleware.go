package middleware

import (
	"net/http"

	"github.com/pkazmin/auth-rbac-service/internal/http/response"
	"github.com/pkazmin/auth-rbac-service/internal/observability"
	"github.com/pkazmin/auth-rbac-service/internal/service"
)

// RequirePermissions gates a route on the caller's permission closure. The
// closure is resolved fresh per request so group/permission edits apply
// immediately. OR semantics: holding any one of the listed permissions
// authorizes the request.
func RequirePermissions(authz service.Authorizer, resolver service.PermissionResolver, permissions ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
				return
			}
			userID, err := claims.SubjectID()
			if err != nil {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid subject", nil)
				return
			}
			closure, err := resolver.ResolvePermissions(userID)
			if err != nil {
				observability.RecordPermissionCheck("resolve_error")
				response.Error(w, r, http.StatusServiceUnavailable, "RBAC_UNAVAILABLE", "permission resolution unavailable", nil)
				return
			}
			if !authz.HasAnyPermission(closure, permissions) {
				observability.RecordPermissionCheck("denied")
				response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "insufficient permission", map[string]any{"required": permissions})
				return
			}
			observability.RecordPermissionCheck("allowed")
			next.ServeHTTP(w, r)
		})
	}
}
