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
	ErrUserNotFound   = errors.New("user not found")
	ErrDuplicateLogin = errors.New("login or email already taken")
)

type UserRepository interface {
	FindByID(id uuid.UUID) (*domain.User, error)
	FindByLogin(login string) (*domain.User, error)
	Create(user *domain.User) error
	UpdatePassword(id uuid.UUID, passwordHash string) error
	SetGroups(userID uuid.UUID, groupIDs []uuid.UUID) error
}

type GormUserRepository struct{ db *gorm.DB }

func NewUserRepository(db *gorm.DB) UserRepository { return &GormUserRepository{db: db} }

// FindByID loads the user with its full permission closure; callers rely on
// Groups.Permissions being populated.
func (r *GormUserRepository) FindByID(id uuid.UUID) (*domain.User, error) {
	var u domain.User
	err := r.db.Preload("Groups.Permissions").First(&u, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "user", "find_by_id", "not_found")
			return nil, ErrUserNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "user", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "find_by_id", "success")
	return &u, nil
}

func (r *GormUserRepository) FindByLogin(login string) (*domain.User, error) {
	var u domain.User
	err := r.db.Preload("Groups.Permissions").Where("login = ?", login).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "user", "find_by_login", "not_found")
			return nil, ErrUserNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "user", "find_by_login", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "find_by_login", "success")
	return &u, nil
}

func (r *GormUserRepository) Create(user *domain.User) error {
	err := r.db.Create(user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			observability.RecordRepositoryOperation(context.Background(), "user", "create", "conflict")
			return ErrDuplicateLogin
		}
		observability.RecordRepositoryOperation(context.Background(), "user", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "create", "success")
	return nil
}

func (r *GormUserRepository) UpdatePassword(id uuid.UUID, passwordHash string) error {
	res := r.db.Model(&domain.User{}).Where("id = ?", id).Update("password_hash", passwordHash)
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "user", "update_password", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(context.Background(), "user", "update_password", "not_found")
		return ErrUserNotFound
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "update_password", "success")
	return nil
}

func (r *GormUserRepository) SetGroups(userID uuid.UUID, groupIDs []uuid.UUID) error {
	var groups []domain.Group
	if len(groupIDs) > 0 {
		if err := r.db.Where("id IN ?", groupIDs).Find(&groups).Error; err != nil {
			observability.RecordRepositoryOperation(context.Background(), "user", "set_groups", "error")
			return err
		}
		if len(groups) != len(groupIDs) {
			observability.RecordRepositoryOperation(context.Background(), "user", "set_groups", "not_found")
			return ErrGroupNotFound
		}
	}
	u := domain.User{ID: userID}
	if err := r.db.Model(&u).Association("Groups").Replace(groups); err != nil {
		observability.RecordRepositoryOperation(context.Background(), "user", "set_groups", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "set_groups", "success")
	return nil
}
