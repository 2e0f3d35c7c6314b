package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/wwfm-backend/internal/data/repos/ratings"
	"github.com/yungbote/wwfm-backend/internal/platform/logger"
)

type Repos struct {
	Rating ratings.RatingRepo
	Link   ratings.LinkRepo
	Queue  ratings.QueueRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Rating: ratings.NewRatingRepo(db, log),
		Link:   ratings.NewLinkRepo(db, log),
		Queue:  ratings.NewQueueRepo(db, log),
	}
}
