package repository

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/pkazmin/auth-rbac-service/internal/domain"
)

// Open connects to postgres with duplicate-key translation enabled so the
// repositories can map unique violations onto domain errors.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

// Migrate creates the schema. Beyond AutoMigrate it installs a partial
// unique index so two concurrent sign-ins from the same device cannot both
// commit an active session; the second insert fails with a duplicate-key
// error instead of racing a select-then-insert.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&domain.Permission{},
		&domain.Group{},
		&domain.User{},
		&domain.RefreshSession{},
		&domain.LoginHistory{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if err := db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS uniq_active_session_per_device
		 ON refresh_sessions (user_id, user_agent) WHERE is_active`,
	).Error; err != nil {
		return fmt.Errorf("create active session index: %w", err)
	}
	return nil
}
