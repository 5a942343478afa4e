package db

import (
	"gorm.io/gorm"

	types "github.com/yungbote/dgnl-backend/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.Test{},
		&types.Question{},
		&types.Trial{},
		&types.Response{},
	)
}
