package ratings

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/wwfm-backend/internal/domain/ratings"
	"github.com/yungbote/wwfm-backend/internal/platform/dbctx"
	"github.com/yungbote/wwfm-backend/internal/platform/logger"
)

type RatingRepo interface {
	Create(dbc dbctx.Context, rating *types.Rating) error
	ListForPair(dbc dbctx.Context, goalID, implementationID uuid.UUID) ([]*types.Rating, error)
}

type ratingRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRatingRepo(db *gorm.DB, baseLog *logger.Logger) RatingRepo {
	return &ratingRepo{
		db:  db,
		log: baseLog.With("repo", "RatingRepo"),
	}
}

func (r *ratingRepo) Create(dbc dbctx.Context, rating *types.Rating) error {
	if rating == nil {
		return nil
	}
	return dbc.Conn(r.db).Create(rating).Error
}

// ListForPair returns every rating of the pair in a stable order so that
// aggregation sees values in the same sequence on every run.
func (r *ratingRepo) ListForPair(dbc dbctx.Context, goalID, implementationID uuid.UUID) ([]*types.Rating, error) {
	var out []*types.Rating
	if goalID == uuid.Nil || implementationID == uuid.Nil {
		return out, nil
	}
	err := dbc.Conn(r.db).
		Where("goal_id = ? AND implementation_id = ?", goalID, implementationID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
