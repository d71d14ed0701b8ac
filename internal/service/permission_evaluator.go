package service

import (
	"github.com/google/uuid"

	"github.com/pkazmin/auth-rbac-service/internal/domain"
	"github.com/pkazmin/auth-rbac-service/internal/repository"
)

// PermissionEvaluator decides whether a subject's permission closure
// satisfies an operation's requirement.
//
// Semantics are OR across the required list: holding ANY ONE of the required
// permissions authorizes the call. Callers that need several permissions
// simultaneously must evaluate each one and combine the results themselves.
type PermissionEvaluator struct{}

func NewPermissionEvaluator() *PermissionEvaluator { return &PermissionEvaluator{} }

func (e *PermissionEvaluator) HasAnyPermission(subjectPermissions, required []string) bool {
	if len(required) == 0 {
		return true
	}
	held := make(map[string]struct{}, len(subjectPermissions))
	for _, p := range subjectPermissions {
		if p == domain.WildcardPermission {
			return true
		}
		held[p] = struct{}{}
	}
	for _, want := range required {
		if _, ok := held[want]; ok {
			return true
		}
	}
	return false
}

// FreshPermissionResolver re-reads the subject's group/permission state on
// every call. Permission edits must take effect on the next request, so the
// closure is never cached across requests.
type FreshPermissionResolver struct {
	userRepo repository.UserRepository
}

func NewFreshPermissionResolver(userRepo repository.UserRepository) *FreshPermissionResolver {
	return &FreshPermissionResolver{userRepo: userRepo}
}

func (r *FreshPermissionResolver) ResolvePermissions(userID uuid.UUID) ([]string, error) {
	user, err := r.userRepo.FindByID(userID)
	if err != nil {
		return nil, err
	}
	return user.PermissionClosure(), nil
}
