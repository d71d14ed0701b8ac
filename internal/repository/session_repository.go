package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pkazmin/auth-rbac-service/internal/domain"
	"github.com/pkazmin/auth-rbac-service/internal/observability"
)

var (
	ErrSessionNotFound        = errors.New("session not found")
	ErrDuplicateActiveSession = errors.New("active session already exists for device")
)

// SessionRepository persists refresh sessions and their login-history audit
// trail. Open and Close pair a session mutation with its history write in
// one transaction so a half-committed login can never be observed.
type SessionRepository interface {
	Open(userID uuid.UUID, userAgent, refreshJTI string, expiresAt time.Time) error
	Close(userID uuid.UUID, userAgent, refreshJTI string) (bool, error)
	CloseAll(userID uuid.UUID) (int64, error)
	Rotate(userID uuid.UUID, userAgent, oldJTI, newJTI string, expiresAt time.Time) error
	FindActiveByJTI(refreshJTI string) (*domain.RefreshSession, error)
	ListActive(userID uuid.UUID) ([]domain.RefreshSession, error)
	CountActive(userID uuid.UUID) (int64, error)
	ListHistory(userID uuid.UUID, req PageRequest) (PageResult[domain.LoginHistory], error)
	DeactivateExpired() (int64, error)
}

type GormSessionRepository struct{ db *gorm.DB }

func NewSessionRepository(db *gorm.DB) SessionRepository { return &GormSessionRepository{db: db} }

func (r *GormSessionRepository) Open(userID uuid.UUID, userAgent, refreshJTI string, expiresAt time.Time) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		// A lapsed session is INACTIVE in every read path but its row still
		// holds the partial unique index; retire it here so a device whose
		// session expired without logout can sign in before the sweeper runs.
		if err := tx.Model(&domain.RefreshSession{}).
			Where("user_id = ? AND user_agent = ? AND is_active AND expires_at <= ?", userID, userAgent, time.Now()).
			Update("is_active", false).Error; err != nil {
			return err
		}
		session := &domain.RefreshSession{
			UserID:     userID,
			RefreshJTI: refreshJTI,
			UserAgent:  userAgent,
			IsActive:   true,
			ExpiresAt:  expiresAt,
		}
		if err := tx.Create(session).Error; err != nil {
			return err
		}
		history := &domain.LoginHistory{
			UserID:    userID,
			UserAgent: userAgent,
			LoginAt:   time.Now().UTC(),
		}
		return tx.Create(history).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			observability.RecordRepositoryOperation(context.Background(), "session", "open", "conflict")
			return ErrDuplicateActiveSession
		}
		observability.RecordRepositoryOperation(context.Background(), "session", "open", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "open", "success")
	return nil
}

// Close deactivates the matching active session and stamps the open history
// row. It returns false without error when nothing matched, so logout stays
// idempotent for the caller.
func (r *GormSessionRepository) Close(userID uuid.UUID, userAgent, refreshJTI string) (bool, error) {
	closed := false
	err := r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.RefreshSession{}).
			Where("user_id = ? AND user_agent = ? AND refresh_jti = ? AND is_active", userID, userAgent, refreshJTI).
			Update("is_active", false)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		closed = true
		now := time.Now().UTC()
		var open domain.LoginHistory
		err := tx.Where("user_id = ? AND user_agent = ? AND logout_at IS NULL", userID, userAgent).
			Order("login_at DESC").
			First(&open).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		return tx.Model(&open).Update("logout_at", now).Error
	})
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "close", "error")
		return false, err
	}
	if !closed {
		observability.RecordRepositoryOperation(context.Background(), "session", "close", "not_found")
		return false, nil
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "close", "success")
	return true, nil
}

// CloseAll deactivates every active session for the user. History rows are
// left alone; a forced invalidation is not a logout event.
func (r *GormSessionRepository) CloseAll(userID uuid.UUID) (int64, error) {
	res := r.db.Model(&domain.RefreshSession{}).
		Where("user_id = ? AND is_active", userID).
		Update("is_active", false)
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "close_all", "error")
		return 0, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "close_all", "success")
	return res.RowsAffected, nil
}

// Rotate swaps the device's active session onto a new jti. Deactivation and
// insert run in one transaction, ordered so the partial unique index never
// sees two active rows for the device.
func (r *GormSessionRepository) Rotate(userID uuid.UUID, userAgent, oldJTI, newJTI string, expiresAt time.Time) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.RefreshSession{}).
			Where("user_id = ? AND user_agent = ? AND refresh_jti = ? AND is_active", userID, userAgent, oldJTI).
			Update("is_active", false)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrSessionNotFound
		}
		return tx.Create(&domain.RefreshSession{
			UserID:     userID,
			RefreshJTI: newJTI,
			UserAgent:  userAgent,
			IsActive:   true,
			ExpiresAt:  expiresAt,
		}).Error
	})
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "session", "rotate", "not_found")
		} else {
			observability.RecordRepositoryOperation(context.Background(), "session", "rotate", "error")
		}
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "rotate", "success")
	return nil
}

func (r *GormSessionRepository) FindActiveByJTI(refreshJTI string) (*domain.RefreshSession, error) {
	var s domain.RefreshSession
	err := r.db.Where("refresh_jti = ? AND is_active AND expires_at > ?", refreshJTI, time.Now()).
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "session", "find_active_by_jti", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "session", "find_active_by_jti", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "find_active_by_jti", "success")
	return &s, nil
}

func (r *GormSessionRepository) ListActive(userID uuid.UUID) ([]domain.RefreshSession, error) {
	var sessions []domain.RefreshSession
	err := r.db.Where("user_id = ? AND is_active AND expires_at > ?", userID, time.Now()).
		Order("created_at DESC").
		Find(&sessions).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "list_active", "error")
		return sessions, err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "list_active", "success")
	return sessions, nil
}

func (r *GormSessionRepository) CountActive(userID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.Model(&domain.RefreshSession{}).
		Where("user_id = ? AND is_active AND expires_at > ?", userID, time.Now()).
		Count(&n).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "count_active", "error")
		return 0, err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "count_active", "success")
	return n, nil
}

func (r *GormSessionRepository) ListHistory(userID uuid.UUID, req PageRequest) (PageResult[domain.LoginHistory], error) {
	normalized := normalizePageRequest(req)
	result := PageResult[domain.LoginHistory]{
		Page:     normalized.Page,
		PageSize: normalized.PageSize,
	}

	base := r.db.Model(&domain.LoginHistory{}).Where("user_id = ?", userID)
	if err := base.Count(&result.Total).Error; err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "list_history", "error")
		return PageResult[domain.LoginHistory]{}, err
	}
	offset := (normalized.Page - 1) * normalized.PageSize
	err := base.Order("login_at DESC").Order("id DESC").
		Offset(offset).Limit(normalized.PageSize).
		Find(&result.Items).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "list_history", "error")
		return PageResult[domain.LoginHistory]{}, err
	}
	result.TotalPages = calcTotalPages(result.Total, normalized.PageSize)
	observability.RecordRepositoryOperation(context.Background(), "session", "list_history", "success")
	return result, nil
}

// DeactivateExpired flips the flag on sessions whose refresh token has
// lapsed. Run periodically; rows are kept for the audit trail.
func (r *GormSessionRepository) DeactivateExpired() (int64, error) {
	res := r.db.Model(&domain.RefreshSession{}).
		Where("is_active AND expires_at <= ?", time.Now()).
		Update("is_active", false)
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "deactivate_expired", "error")
		return 0, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "deactivate_expired", "success")
	return res.RowsAffected, nil
}
