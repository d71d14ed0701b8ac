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
	ErrPermissionNotFound  = errors.New("permission not found")
	ErrDuplicatePermission = errors.New("permission name already exists")
)

type PermissionRepository interface {
	List() ([]domain.Permission, error)
	FindByID(id uuid.UUID) (*domain.Permission, error)
	FindByName(name string) (*domain.Permission, error)
	Create(permission *domain.Permission) error
	Update(id uuid.UUID, name string) (*domain.Permission, error)
	DeleteByID(id uuid.UUID) error
}

type GormPermissionRepository struct{ db *gorm.DB }

func NewPermissionRepository(db *gorm.DB) PermissionRepository {
	return &GormPermissionRepository{db: db}
}

func (r *GormPermissionRepository) List() ([]domain.Permission, error) {
	var perms []domain.Permission
	err := r.db.Order("permission_name").Find(&perms).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "permission", "list", "error")
		return perms, err
	}
	observability.RecordRepositoryOperation(context.Background(), "permission", "list", "success")
	return perms, err
}

func (r *GormPermissionRepository) FindByID(id uuid.UUID) (*domain.Permission, error) {
	var p domain.Permission
	if err := r.db.First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "permission", "find_by_id", "not_found")
			return nil, ErrPermissionNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "permission", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "permission", "find_by_id", "success")
	return &p, nil
}

func (r *GormPermissionRepository) FindByName(name string) (*domain.Permission, error) {
	var p domain.Permission
	if err := r.db.Where("permission_name = ?", name).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "permission", "find_by_name", "not_found")
			return nil, ErrPermissionNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "permission", "find_by_name", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "permission", "find_by_name", "success")
	return &p, nil
}

func (r *GormPermissionRepository) Create(permission *domain.Permission) error {
	err := r.db.Create(permission).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			observability.RecordRepositoryOperation(context.Background(), "permission", "create", "conflict")
			return ErrDuplicatePermission
		}
		observability.RecordRepositoryOperation(context.Background(), "permission", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "permission", "create", "success")
	return nil
}

func (r *GormPermissionRepository) Update(id uuid.UUID, name string) (*domain.Permission, error) {
	res := r.db.Model(&domain.Permission{}).Where("id = ?", id).Update("permission_name", name)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			observability.RecordRepositoryOperation(context.Background(), "permission", "update", "conflict")
			return nil, ErrDuplicatePermission
		}
		observability.RecordRepositoryOperation(context.Background(), "permission", "update", "error")
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(context.Background(), "permission", "update", "not_found")
		return nil, ErrPermissionNotFound
	}
	observability.RecordRepositoryOperation(context.Background(), "permission", "update", "success")
	return r.FindByID(id)
}

func (r *GormPermissionRepository) DeleteByID(id uuid.UUID) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var p domain.Permission
		if err := tx.First(&p, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPermissionNotFound
			}
			return err
		}
		if err := tx.Exec("DELETE FROM groups_permissions WHERE permission_id = ?", p.ID).Error; err != nil {
			return err
		}
		return tx.Delete(&p).Error
	})
	if err != nil {
		if errors.Is(err, ErrPermissionNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "permission", "delete_by_id", "not_found")
		} else {
			observability.RecordRepositoryOperation(context.Background(), "permission", "delete_by_id", "error")
		}
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "permission", "delete_by_id", "success")
	return nil
}
