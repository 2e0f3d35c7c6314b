package ratings

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/wwfm-backend/internal/domain/ratings"
	"github.com/yungbote/wwfm-backend/internal/platform/dbctx"
	"github.com/yungbote/wwfm-backend/internal/platform/logger"
)

// Pair identifies a goal/implementation link.
type Pair struct {
	GoalID           uuid.UUID `gorm:"column:goal_id"`
	ImplementationID uuid.UUID `gorm:"column:implementation_id"`
}

type LinkRepo interface {
	// Ensure inserts the link with the given defaults unless it already exists.
	Ensure(dbc dbctx.Context, goalID, implementationID uuid.UUID, category string, threshold int) error
	Get(dbc dbctx.Context, goalID, implementationID uuid.UUID) (*types.GoalImplementationLink, error)
	// GetForUpdate row-locks the link for the rest of the transaction.
	GetForUpdate(dbc dbctx.Context, goalID, implementationID uuid.UUID) (*types.GoalImplementationLink, error)
	ApplyRating(dbc dbctx.Context, linkID uuid.UUID, score int, source types.DataSource, at time.Time) error
	// PromoteToHuman flips ai -> human when the threshold is met. It reports
	// true only for the single call that performed the flip.
	PromoteToHuman(dbc dbctx.Context, linkID uuid.UUID, at time.Time) (bool, error)
	WriteAggregation(dbc dbctx.Context, goalID, implementationID uuid.UUID, blob datatypes.JSON, watermark *time.Time, at time.Time) error
	ClearDirty(dbc dbctx.Context, goalID, implementationID uuid.UUID, at time.Time) error
	ListDirtyUnqueued(dbc dbctx.Context, limit int) ([]Pair, error)
}

type linkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLinkRepo(db *gorm.DB, baseLog *logger.Logger) LinkRepo {
	return &linkRepo{
		db:  db,
		log: baseLog.With("repo", "LinkRepo"),
	}
}

func (r *linkRepo) Ensure(dbc dbctx.Context, goalID, implementationID uuid.UUID, category string, threshold int) error {
	if threshold <= 0 {
		threshold = types.DefaultTransitionThreshold
	}
	now := time.Now().UTC()
	link := &types.GoalImplementationLink{
		GoalID:              goalID,
		ImplementationID:    implementationID,
		SolutionCategory:    category,
		DataDisplayMode:     types.DisplayAI,
		TransitionThreshold: threshold,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	return dbc.Conn(r.db).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "goal_id"}, {Name: "implementation_id"}},
			DoNothing: true,
		}).
		Create(link).Error
}

func (r *linkRepo) Get(dbc dbctx.Context, goalID, implementationID uuid.UUID) (*types.GoalImplementationLink, error) {
	return r.get(dbc.Conn(r.db), goalID, implementationID)
}

func (r *linkRepo) GetForUpdate(dbc dbctx.Context, goalID, implementationID uuid.UUID) (*types.GoalImplementationLink, error) {
	return r.get(dbc.Conn(r.db).Clauses(clause.Locking{Strength: "UPDATE"}), goalID, implementationID)
}

func (r *linkRepo) get(q *gorm.DB, goalID, implementationID uuid.UUID) (*types.GoalImplementationLink, error) {
	var link types.GoalImplementationLink
	err := q.Where("goal_id = ? AND implementation_id = ?", goalID, implementationID).
		First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// ApplyRating bumps counters and running means in a single UPDATE; every
// right-hand side reads the pre-update row, so concurrent raters cannot lose
// increments.
func (r *linkRepo) ApplyRating(dbc dbctx.Context, linkID uuid.UUID, score int, source types.DataSource, at time.Time) error {
	updates := map[string]interface{}{
		"rating_count":      gorm.Expr("rating_count + 1"),
		"avg_effectiveness": gorm.Expr("(avg_effectiveness * rating_count + ?) / (rating_count + 1)", float64(score)),
		"needs_aggregation": true,
		"last_rating_at":    gorm.Expr("CASE WHEN last_rating_at IS NULL OR last_rating_at < ? THEN ? ELSE last_rating_at END", at, at),
		"updated_at":        at,
	}
	if source == types.SourceHuman {
		updates["human_rating_count"] = gorm.Expr("human_rating_count + 1")
		updates["human_avg_effectiveness"] = gorm.Expr("(human_avg_effectiveness * human_rating_count + ?) / (human_rating_count + 1)", float64(score))
	}
	return dbc.Conn(r.db).
		Model(&types.GoalImplementationLink{}).
		Where("id = ?", linkID).
		Updates(updates).Error
}

func (r *linkRepo) PromoteToHuman(dbc dbctx.Context, linkID uuid.UUID, at time.Time) (bool, error) {
	res := dbc.Conn(r.db).
		Model(&types.GoalImplementationLink{}).
		Where("id = ? AND data_display_mode = ? AND human_rating_count >= transition_threshold", linkID, types.DisplayAI).
		Updates(map[string]interface{}{
			"data_display_mode": types.DisplayHuman,
			"transitioned_at":   at,
			"updated_at":        at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// WriteAggregation replaces the aggregated snapshot. The dirty flag is cleared
// unless a rating newer than the snapshot's watermark has landed meanwhile.
func (r *linkRepo) WriteAggregation(dbc dbctx.Context, goalID, implementationID uuid.UUID, blob datatypes.JSON, watermark *time.Time, at time.Time) error {
	updates := map[string]interface{}{
		"aggregated_fields":  blob,
		"last_aggregated_at": at,
		"updated_at":         at,
		"needs_aggregation":  false,
	}
	if watermark != nil {
		updates["needs_aggregation"] = gorm.Expr(
			"CASE WHEN last_rating_at IS NOT NULL AND last_rating_at > ? THEN needs_aggregation ELSE false END",
			*watermark,
		)
	}
	res := dbc.Conn(r.db).
		Model(&types.GoalImplementationLink{}).
		Where("goal_id = ? AND implementation_id = ?", goalID, implementationID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ClearDirty resets a stale dirty flag on a link with nothing to aggregate.
func (r *linkRepo) ClearDirty(dbc dbctx.Context, goalID, implementationID uuid.UUID, at time.Time) error {
	return dbc.Conn(r.db).
		Model(&types.GoalImplementationLink{}).
		Where("goal_id = ? AND implementation_id = ?", goalID, implementationID).
		Updates(map[string]interface{}{
			"needs_aggregation":  false,
			"last_aggregated_at": at,
			"updated_at":         at,
		}).Error
}

// ListDirtyUnqueued finds links flagged for aggregation that have lost their
// queue entry, e.g. after a dead-lettered entry was purged by hand.
func (r *linkRepo) ListDirtyUnqueued(dbc dbctx.Context, limit int) ([]Pair, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []Pair
	err := dbc.Conn(r.db).
		Table("goal_implementation_links AS l").
		Select("l.goal_id, l.implementation_id").
		Joins("LEFT JOIN aggregation_queue AS q ON q.goal_id = l.goal_id AND q.implementation_id = l.implementation_id").
		Where("l.needs_aggregation = ? AND q.id IS NULL", true).
		Order("l.last_rating_at ASC").
		Limit(limit).
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
