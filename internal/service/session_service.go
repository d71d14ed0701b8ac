package service

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pkazmin/auth-rbac-service/internal/repository"
)

type SessionView struct {
	ID        uuid.UUID `json:"id"`
	UserAgent string    `json:"user_agent"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionService exposes the user's active devices and houses the expiry
// sweeper run by the service host.
type SessionService struct {
	sessionRepo repository.SessionRepository
	logger      *slog.Logger
}

func NewSessionService(sessionRepo repository.SessionRepository, logger *slog.Logger) *SessionService {
	return &SessionService{sessionRepo: sessionRepo, logger: logger}
}

func (s *SessionService) ListActiveSessions(userID uuid.UUID) ([]SessionView, error) {
	sessions, err := s.sessionRepo.ListActive(userID)
	if err != nil {
		return nil, err
	}
	views := make([]SessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, SessionView{
			ID:        session.ID,
			UserAgent: session.UserAgent,
			CreatedAt: session.CreatedAt,
			ExpiresAt: session.ExpiresAt,
		})
	}
	return views, nil
}

// SweepExpired deactivates sessions whose refresh tokens have lapsed.
func (s *SessionService) SweepExpired() {
	n, err := s.sessionRepo.DeactivateExpired()
	if err != nil {
		s.logger.Error("session sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("expired sessions deactivated", "count", n)
	}
}
