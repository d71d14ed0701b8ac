package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/pkazmin/auth-rbac-service/internal/domain"
	"github.com/pkazmin/auth-rbac-service/internal/repository"
	"github.com/pkazmin/auth-rbac-service/internal/security"
)

// AuthServiceInterface is what the HTTP layer depends on for the
// token-session lifecycle.
type AuthServiceInterface interface {
	SignIn(ctx context.Context, username, password, userAgent, clientIP string) (*TokenPair, error)
	Logout(ctx context.Context, claims *security.Claims, userAgent string) error
	Refresh(ctx context.Context, refreshToken, userAgent string) (*TokenPair, error)
	ChangePassword(ctx context.Context, userID uuid.UUID, oldPassword, repeatedOldPassword, newPassword string) error
	IsDenylisted(ctx context.Context, jti string) (bool, error)
	LoginHistory(userID uuid.UUID, page, pageSize int) (repository.PageResult[domain.LoginHistory], error)
}

type UserServiceInterface interface {
	Register(login, password, email, firstName, lastName string) (*UserView, error)
	GetByID(id uuid.UUID) (*domain.User, []string, error)
	SetGroups(userID uuid.UUID, groupIDs []uuid.UUID) error
}

// PermissionResolver produces the subject's current permission closure.
type PermissionResolver interface {
	ResolvePermissions(userID uuid.UUID) ([]string, error)
}

// Authorizer evaluates a permission requirement against a closure.
// OR semantics: any one required permission suffices.
type Authorizer interface {
	HasAnyPermission(subjectPermissions, required []string) bool
}
