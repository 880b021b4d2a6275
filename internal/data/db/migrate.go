package db

import (
	"gorm.io/gorm"

	"github.com/yungbote/activitylog-backend/internal/domain"
)

// AutoMigrateAll creates or extends every table. Uniqueness constraints that the
// write engine relies on come from the model tags (unique indexes and the
// composite primary key on context_link).
func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(domain.Models()...)
}
