package service

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/pkazmin/auth-rbac-service/internal/domain"
	"github.com/pkazmin/auth-rbac-service/internal/repository"
	"github.com/pkazmin/auth-rbac-service/internal/security"
)

type UserView struct {
	ID        uuid.UUID `json:"id"`
	Login     string    `json:"login"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
}

type UserService struct {
	userRepo repository.UserRepository
	logger   *slog.Logger
}

func NewUserService(userRepo repository.UserRepository, logger *slog.Logger) *UserService {
	return &UserService{userRepo: userRepo, logger: logger}
}

// Register creates a user with a hashed credential. Login and email
// collisions surface as repository.ErrDuplicateLogin.
func (s *UserService) Register(login, password, email, firstName, lastName string) (*UserView, error) {
	hash, err := security.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := &domain.User{
		Login:        login,
		Email:        email,
		PasswordHash: hash,
		FirstName:    firstName,
		LastName:     lastName,
	}
	if err := s.userRepo.Create(user); err != nil {
		return nil, err
	}
	return userView(user), nil
}

func (s *UserService) GetByID(id uuid.UUID) (*domain.User, []string, error) {
	user, err := s.userRepo.FindByID(id)
	if err != nil {
		return nil, nil, err
	}
	return user, user.PermissionClosure(), nil
}

// SetGroups replaces the user's group memberships (role assignment).
func (s *UserService) SetGroups(userID uuid.UUID, groupIDs []uuid.UUID) error {
	return s.userRepo.SetGroups(userID, groupIDs)
}

func userView(u *domain.User) *UserView {
	return &UserView{
		ID:        u.ID,
		Login:     u.Login,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
}
