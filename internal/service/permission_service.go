package service

import (
	"github.com/google/uuid"

	"github.com/pkazmin/auth-rbac-service/internal/domain"
	"github.com/pkazmin/auth-rbac-service/internal/repository"
)

type PermissionView struct {
	ID             uuid.UUID `json:"id"`
	PermissionName string    `json:"permission_name"`
}

type PermissionService struct {
	permRepo repository.PermissionRepository
}

func NewPermissionService(permRepo repository.PermissionRepository) *PermissionService {
	return &PermissionService{permRepo: permRepo}
}

func (s *PermissionService) Create(name string) (*PermissionView, error) {
	p := &domain.Permission{PermissionName: name}
	if err := s.permRepo.Create(p); err != nil {
		return nil, err
	}
	return &PermissionView{ID: p.ID, PermissionName: p.PermissionName}, nil
}

func (s *PermissionService) List() ([]PermissionNameView, error) {
	perms, err := s.permRepo.List()
	if err != nil {
		return nil, err
	}
	return permissionNameViews(perms), nil
}

func (s *PermissionService) Update(id uuid.UUID, name string) (*PermissionView, error) {
	p, err := s.permRepo.Update(id, name)
	if err != nil {
		return nil, err
	}
	return &PermissionView{ID: p.ID, PermissionName: p.PermissionName}, nil
}

func (s *PermissionService) Delete(id uuid.UUID) error {
	return s.permRepo.DeleteByID(id)
}
