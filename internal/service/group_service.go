package service

import (
	"github.com/google/uuid"

	"github.com/pkazmin/auth-rbac-service/internal/domain"
	"github.com/pkazmin/auth-rbac-service/internal/repository"
)

type PermissionNameView struct {
	PermissionName string `json:"permission_name"`
}

// GroupDetailView is the full representation returned from create/update.
type GroupDetailView struct {
	ID          uuid.UUID            `json:"id"`
	GroupName   string               `json:"group_name"`
	Permissions []PermissionNameView `json:"permissions"`
}

// GroupShortView omits the id, used for listing.
type GroupShortView struct {
	GroupName   string               `json:"group_name"`
	Permissions []PermissionNameView `json:"permissions"`
}

type GroupService struct {
	groupRepo repository.GroupRepository
}

func NewGroupService(groupRepo repository.GroupRepository) *GroupService {
	return &GroupService{groupRepo: groupRepo}
}

// Create inserts a group referencing pre-existing permissions by name. The
// group name is checked for duplicates first; an unknown permission name
// fails with repository.ErrPermissionMissing.
func (s *GroupService) Create(name string, permissionNames []string) (*GroupDetailView, error) {
	if _, err := s.groupRepo.FindByName(name); err == nil {
		return nil, repository.ErrDuplicateGroup
	}
	group, err := s.groupRepo.Create(name, permissionNames)
	if err != nil {
		return nil, err
	}
	return detailView(group), nil
}

func (s *GroupService) List() ([]GroupShortView, error) {
	groups, err := s.groupRepo.List()
	if err != nil {
		return nil, err
	}
	views := make([]GroupShortView, 0, len(groups))
	for i := range groups {
		views = append(views, GroupShortView{
			GroupName:   groups[i].GroupName,
			Permissions: permissionNameViews(groups[i].Permissions),
		})
	}
	return views, nil
}

// Update replaces the group's name and permission set. The name is checked
// against existing groups the same way Create does, skipping the group's own
// row so a no-op rename stays legal.
func (s *GroupService) Update(id uuid.UUID, name string, permissionNames []string) (*GroupDetailView, error) {
	if existing, err := s.groupRepo.FindByName(name); err == nil && existing.ID != id {
		return nil, repository.ErrDuplicateGroup
	}
	group, err := s.groupRepo.Update(id, name, permissionNames)
	if err != nil {
		return nil, err
	}
	return detailView(group), nil
}

func (s *GroupService) Delete(id uuid.UUID) error {
	return s.groupRepo.DeleteByID(id)
}

func detailView(g *domain.Group) *GroupDetailView {
	return &GroupDetailView{
		ID:          g.ID,
		GroupName:   g.GroupName,
		Permissions: permissionNameViews(g.Permissions),
	}
}

func permissionNameViews(perms []domain.Permission) []PermissionNameView {
	views := make([]PermissionNameView, 0, len(perms))
	for _, p := range perms {
		views = append(views, PermissionNameView{PermissionName: p.PermissionName})
	}
	return views
}
