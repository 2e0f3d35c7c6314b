package db

import (
	"gorm.io/gorm"

	types "github.com/yungbote/wwfm-backend/internal/domain/ratings"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.Rating{},
		&types.GoalImplementationLink{},
		&types.AggregationQueueEntry{},
	)
}
