package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/pkazmin/auth-rbac-service/internal/http/response"
	"github.com/pkazmin/auth-rbac-service/internal/observability"
	"github.com/pkazmin/auth-rbac-service/internal/security"
	"github.com/pkazmin/auth-rbac-service/internal/service"
)

type contextKey string

const (
	ClaimsContextKey contextKey = "claims"
)

// AuthMiddleware validates the access token's signature, expiry and type,
// then consults the denylist before any business logic runs. A revoked but
// not yet expired token is rejected here.
func AuthMiddleware(jwtMgr *security.JWTManager, denylist service.DenylistCache) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := security.GetCookie(r, "access_token")
			source := "cookie"
			if raw == "" {
				auth := r.Header.Get("Authorization")
				if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
					raw = strings.TrimSpace(auth[7:])
					source = "bearer"
				}
			}
			if raw == "" {
				observability.RecordAccessTokenValidation(r.Context(), "missing", "none")
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
				return
			}
			claims, err := jwtMgr.ParseAccessToken(raw)
			if err != nil {
				if errors.Is(err, security.ErrWrongTokenType) {
					observability.RecordAccessTokenValidation(r.Context(), "wrong_type", source)
					response.Error(w, r, http.StatusUnprocessableEntity, "WRONG_TOKEN_TYPE", "access token required", nil)
					return
				}
				observability.RecordAccessTokenValidation(r.Context(), "invalid", source)
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid access token", nil)
				return
			}
			denied, err := denylist.IsDenied(r.Context(), claims.ID)
			if err != nil {
				observability.RecordAccessTokenValidation(r.Context(), "denylist_error", source)
				response.Error(w, r, http.StatusServiceUnavailable, "DENYLIST_UNAVAILABLE", "token revocation check unavailable", nil)
				return
			}
			if denied {
				observability.RecordAccessTokenValidation(r.Context(), "denylisted", source)
				response.Error(w, r, http.StatusUnauthorized, "TOKEN_REVOKED", "token has been revoked", nil)
				return
			}
			observability.RecordAccessTokenValidation(r.Context(), "valid", source)
			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func ClaimsFromContext(ctx context.Context) (*security.Claims, bool) {
	c, ok := ctx.Value(ClaimsContextKey).(*security.Claims)
	return c, ok
}
