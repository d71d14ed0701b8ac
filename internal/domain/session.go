package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RefreshSession is one logged-in device: a (user, user-agent) pair bound to
// a refresh token by its jti. Rows are deactivated, never deleted, so the
// login trail stays intact. At most one active row may exist per
// (user_id, user_agent); a partial unique index enforces it (see
// repository.Migrate).
type RefreshSession struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     uuid.UUID `gorm:"type:uuid;index;not null" json:"user_id"`
	RefreshJTI string    `gorm:"size:64;uniqueIndex;not null" json:"-"`
	UserAgent  string    `gorm:"size:255;not null" json:"user_agent"`
	IsActive   bool      `gorm:"not null;default:false" json:"is_active"`
	ExpiresAt  time.Time `gorm:"index;not null" json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// LoginHistory is an append-only audit row per login. LogoutAt is stamped in
// place when the matching device logs out.
type LoginHistory struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID  `gorm:"type:uuid;index;not null" json:"user_id"`
	UserAgent string     `gorm:"size:255;not null" json:"user_agent"`
	LoginAt   time.Time  `gorm:"index;not null" json:"login_at"`
	LogoutAt  *time.Time `json:"logout_at,omitempty"`
}

func (LoginHistory) TableName() string { return "user_login_history" }

func (s *RefreshSession) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

func (h *LoginHistory) BeforeCreate(tx *gorm.DB) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	return nil
}

// Expired reports whether the session's refresh token is past its expiry;
// an expired row is treated as inactive at read time regardless of the flag.
func (s *RefreshSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
