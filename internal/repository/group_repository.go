package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pkazmin/auth-rbac-service/internal/domain"
	"github.com/pkazmin/auth-rbac-service/internal/observability"
)

var (
	ErrGroupNotFound     = errors.New("group not found")
	ErrDuplicateGroup    = errors.New("group name already exists")
	ErrPermissionMissing = errors.New("referenced permission not found")
)

type GroupRepository interface {
	FindByID(id uuid.UUID) (*domain.Group, error)
	FindByName(name string) (*domain.Group, error)
	List() ([]domain.Group, error)
	Create(name string, permissionNames []string) (*domain.Group, error)
	Update(id uuid.UUID, name string, permissionNames []string) (*domain.Group, error)
	DeleteByID(id uuid.UUID) error
}

type GormGroupRepository struct{ db *gorm.DB }

func NewGroupRepository(db *gorm.DB) GroupRepository { return &GormGroupRepository{db: db} }

func (r *GormGroupRepository) FindByID(id uuid.UUID) (*domain.Group, error) {
	var g domain.Group
	err := r.db.Preload("Permissions").First(&g, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "group", "find_by_id", "not_found")
			return nil, ErrGroupNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "group", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "group", "find_by_id", "success")
	return &g, nil
}

func (r *GormGroupRepository) FindByName(name string) (*domain.Group, error) {
	var g domain.Group
	err := r.db.Preload("Permissions").Where("group_name = ?", name).First(&g).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "group", "find_by_name", "not_found")
			return nil, ErrGroupNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "group", "find_by_name", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "group", "find_by_name", "success")
	return &g, nil
}

func (r *GormGroupRepository) List() ([]domain.Group, error) {
	var groups []domain.Group
	err := r.db.Preload("Permissions").Find(&groups).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "group", "list", "error")
		return groups, err
	}
	observability.RecordRepositoryOperation(context.Background(), "group", "list", "success")
	return groups, err
}

// Create resolves the permission names and inserts the group in one
// transaction. Any unresolvable name aborts with ErrPermissionMissing; a
// group never references permissions that do not exist.
func (r *GormGroupRepository) Create(name string, permissionNames []string) (*domain.Group, error) {
	var created *domain.Group
	err := r.db.Transaction(func(tx *gorm.DB) error {
		perms, err := resolvePermissions(tx, permissionNames)
		if err != nil {
			return err
		}
		g := &domain.Group{GroupName: name, Permissions: perms}
		if err := tx.Create(g).Error; err != nil {
			return err
		}
		created = g
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrPermissionMissing):
			observability.RecordRepositoryOperation(context.Background(), "group", "create", "not_found")
		case errors.Is(err, gorm.ErrDuplicatedKey):
			observability.RecordRepositoryOperation(context.Background(), "group", "create", "conflict")
			return nil, ErrDuplicateGroup
		default:
			observability.RecordRepositoryOperation(context.Background(), "group", "create", "error")
		}
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "group", "create", "success")
	return created, nil
}

func (r *GormGroupRepository) Update(id uuid.UUID, name string, permissionNames []string) (*domain.Group, error) {
	var updated *domain.Group
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var existing domain.Group
		if err := tx.Preload("Permissions").First(&existing, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrGroupNotFound
			}
			return err
		}
		perms, err := resolvePermissions(tx, permissionNames)
		if err != nil {
			return err
		}
		if err := tx.Model(&existing).Update("group_name", name).Error; err != nil {
			return err
		}
		if err := tx.Model(&existing).Association("Permissions").Replace(perms); err != nil {
			return err
		}
		existing.GroupName = name
		existing.Permissions = perms
		updated = &existing
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrGroupNotFound) || errors.Is(err, ErrPermissionMissing) {
			observability.RecordRepositoryOperation(context.Background(), "group", "update", "not_found")
		} else {
			observability.RecordRepositoryOperation(context.Background(), "group", "update", "error")
		}
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "group", "update", "success")
	return updated, nil
}

func (r *GormGroupRepository) DeleteByID(id uuid.UUID) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var g domain.Group
		if err := tx.First(&g, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrGroupNotFound
			}
			return err
		}
		if err := tx.Model(&g).Association("Permissions").Clear(); err != nil {
			return err
		}
		if err := tx.Exec("DELETE FROM groups_users WHERE group_id = ?", g.ID).Error; err != nil {
			return err
		}
		return tx.Delete(&g).Error
	})
	if err != nil {
		if errors.Is(err, ErrGroupNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "group", "delete_by_id", "not_found")
		} else {
			observability.RecordRepositoryOperation(context.Background(), "group", "delete_by_id", "error")
		}
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "group", "delete_by_id", "success")
	return nil
}

func resolvePermissions(tx *gorm.DB, names []string) ([]domain.Permission, error) {
	if len(names) == 0 {
		return nil, nil
	}
	var perms []domain.Permission
	if err := tx.Where("permission_name IN ?", names).Find(&perms).Error; err != nil {
		return nil, err
	}
	if len(perms) != len(names) {
		return nil, ErrPermissionMissing
	}
	return perms, nil
}
