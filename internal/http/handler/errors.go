package handler

import (
	"errors"
	"net/http"

	"github.com/pkazmin/auth-rbac-service/internal/http/response"
	"github.com/pkazmin/auth-rbac-service/internal/repository"
	"github.com/pkazmin/auth-rbac-service/internal/security"
	"github.com/pkazmin/auth-rbac-service/internal/service"
)

// writeServiceError maps domain sentinels onto stable status codes and
// client-safe messages. Anything unrecognized becomes an opaque 500;
// internal detail stays in the server logs.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		response.Error(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid username or password", nil)
	case errors.Is(err, service.ErrInvalidToken):
		response.Error(w, r, http.StatusUnauthorized, "INVALID_TOKEN", "invalid or expired token", nil)
	case errors.Is(err, security.ErrWrongTokenType):
		response.Error(w, r, http.StatusUnprocessableEntity, "WRONG_TOKEN_TYPE", "wrong token type for this endpoint", nil)
	case errors.Is(err, repository.ErrDuplicateActiveSession):
		response.Error(w, r, http.StatusConflict, "DUPLICATE_SESSION", "device already has an active session", nil)
	case errors.Is(err, service.ErrTooManySessions):
		response.Error(w, r, http.StatusConflict, "TOO_MANY_SESSIONS", "maximum concurrent sessions reached", nil)
	case errors.Is(err, service.ErrCooldownActive):
		response.Error(w, r, http.StatusTooManyRequests, "COOLDOWN_ACTIVE", "too many failed attempts, retry later", nil)
	case errors.Is(err, service.ErrPasswordMismatch):
		response.Error(w, r, http.StatusBadRequest, "PASSWORD_CHANGE_FAILED", "password change rejected", nil)
	case errors.Is(err, service.ErrSessionStore):
		response.Error(w, r, http.StatusServiceUnavailable, "SESSION_STORE_FAILURE", "temporary storage failure", nil)
	case errors.Is(err, repository.ErrDuplicateLogin),
		errors.Is(err, repository.ErrDuplicateGroup),
		errors.Is(err, repository.ErrDuplicatePermission):
		response.Error(w, r, http.StatusConflict, "DUPLICATE_NAME", "resource name already exists", nil)
	case errors.Is(err, repository.ErrUserNotFound),
		errors.Is(err, repository.ErrGroupNotFound),
		errors.Is(err, repository.ErrPermissionNotFound),
		errors.Is(err, repository.ErrPermissionMissing),
		errors.Is(err, repository.ErrSessionNotFound):
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
	default:
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}
