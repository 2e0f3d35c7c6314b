package ratings

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/wwfm-backend/internal/domain/ratings"
	"github.com/yungbote/wwfm-backend/internal/platform/dbctx"
	"github.com/yungbote/wwfm-backend/internal/platform/logger"
)

// QueueCounts is a read-only snapshot of the aggregation queue.
type QueueCounts struct {
	Pending        int64
	Processing     int64
	DeadLettered   int64
	OldestQueuedAt *time.Time
}

type QueueRepo interface {
	// Enqueue is idempotent per pair: a second call refreshes queued_at,
	// bumps the generation and clears retry state instead of inserting.
	Enqueue(dbc dbctx.Context, goalID, implementationID uuid.UUID, at time.Time) error
	ListClaimable(dbc dbctx.Context, now time.Time, limit int) ([]*types.AggregationQueueEntry, error)
	// TryClaim flips processing false -> true. Exactly one concurrent caller wins.
	TryClaim(dbc dbctx.Context, id uuid.UUID, at time.Time) (bool, error)
	// Complete deletes a claimed entry unless it was re-queued while claimed,
	// in which case the claim is released and false is returned.
	Complete(dbc dbctx.Context, id uuid.UUID, generation int64) (bool, error)
	// Fail records a failed attempt of the given generation. When the entry was
	// re-queued meanwhile the claim is only released and false is returned.
	Fail(dbc dbctx.Context, id uuid.UUID, generation int64, message string, nextAttemptAt time.Time, deadLetter bool) (bool, error)
	ResetStuck(dbc dbctx.Context, cutoff time.Time) (int64, error)
	Counts(dbc dbctx.Context, now time.Time) (QueueCounts, error)
	Get(dbc dbctx.Context, goalID, implementationID uuid.UUID) (*types.AggregationQueueEntry, error)
}

type queueRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewQueueRepo(db *gorm.DB, baseLog *logger.Logger) QueueRepo {
	return &queueRepo{
		db:  db,
		log: baseLog.With("repo", "QueueRepo"),
	}
}

func (r *queueRepo) Enqueue(dbc dbctx.Context, goalID, implementationID uuid.UUID, at time.Time) error {
	entry := &types.AggregationQueueEntry{
		GoalID:           goalID,
		ImplementationID: implementationID,
		QueuedAt:         at,
		Generation:       1,
	}
	return dbc.Conn(r.db).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "goal_id"}, {Name: "implementation_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"queued_at":        at,
				"generation":       gorm.Expr("aggregation_queue.generation + 1"),
				"attempts":         0,
				"last_error":       "",
				"next_attempt_at":  nil,
				"dead_lettered_at": nil,
			}),
		}).
		Create(entry).Error
}

func (r *queueRepo) ListClaimable(dbc dbctx.Context, now time.Time, limit int) ([]*types.AggregationQueueEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []*types.AggregationQueueEntry
	err := dbc.Conn(r.db).
		Where("processing = ? AND dead_lettered_at IS NULL", false).
		Where("next_attempt_at IS NULL OR next_attempt_at <= ?", now).
		Order("queued_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *queueRepo) TryClaim(dbc dbctx.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := dbc.Conn(r.db).
		Model(&types.AggregationQueueEntry{}).
		Where("id = ? AND processing = ? AND dead_lettered_at IS NULL", id, false).
		Updates(map[string]interface{}{
			"processing": true,
			"claimed_at": at,
			"attempts":   gorm.Expr("attempts + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *queueRepo) Complete(dbc dbctx.Context, id uuid.UUID, generation int64) (bool, error) {
	conn := dbc.Conn(r.db)
	res := conn.
		Where("id = ? AND generation = ?", id, generation).
		Delete(&types.AggregationQueueEntry{})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	err := conn.
		Model(&types.AggregationQueueEntry{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processing": false,
			"claimed_at": nil,
		}).Error
	return false, err
}

func (r *queueRepo) Fail(dbc dbctx.Context, id uuid.UUID, generation int64, message string, nextAttemptAt time.Time, deadLetter bool) (bool, error) {
	conn := dbc.Conn(r.db)
	updates := map[string]interface{}{
		"processing":      false,
		"claimed_at":      nil,
		"last_error":      truncate(message, 2000),
		"next_attempt_at": nextAttemptAt,
	}
	if deadLetter {
		updates["dead_lettered_at"] = nextAttemptAt
		updates["next_attempt_at"] = nil
	}
	res := conn.
		Model(&types.AggregationQueueEntry{}).
		Where("id = ? AND generation = ?", id, generation).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	err := conn.
		Model(&types.AggregationQueueEntry{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processing": false,
			"claimed_at": nil,
		}).Error
	return false, err
}

// ResetStuck releases claims older than cutoff. A claim without claimed_at
// (written by an older worker) is judged by queued_at.
func (r *queueRepo) ResetStuck(dbc dbctx.Context, cutoff time.Time) (int64, error) {
	res := dbc.Conn(r.db).
		Model(&types.AggregationQueueEntry{}).
		Where("processing = ?", true).
		Where("(claimed_at IS NOT NULL AND claimed_at < ?) OR (claimed_at IS NULL AND queued_at < ?)", cutoff, cutoff).
		Updates(map[string]interface{}{
			"processing": false,
			"claimed_at": nil,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *queueRepo) Counts(dbc dbctx.Context, now time.Time) (QueueCounts, error) {
	var out QueueCounts
	conn := dbc.Conn(r.db)
	model := &types.AggregationQueueEntry{}

	if err := conn.Model(model).
		Where("processing = ? AND dead_lettered_at IS NULL", false).
		Count(&out.Pending).Error; err != nil {
		return out, err
	}
	if err := conn.Model(model).
		Where("processing = ?", true).
		Count(&out.Processing).Error; err != nil {
		return out, err
	}
	if err := conn.Model(model).
		Where("dead_lettered_at IS NOT NULL").
		Count(&out.DeadLettered).Error; err != nil {
		return out, err
	}

	var oldest types.AggregationQueueEntry
	err := conn.
		Where("processing = ? AND dead_lettered_at IS NULL", false).
		Order("queued_at ASC").
		Limit(1).
		Take(&oldest).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
	case err != nil:
		return out, err
	default:
		t := oldest.QueuedAt
		out.OldestQueuedAt = &t
	}
	return out, nil
}

func (r *queueRepo) Get(dbc dbctx.Context, goalID, implementationID uuid.UUID) (*types.AggregationQueueEntry, error) {
	var entry types.AggregationQueueEntry
	err := dbc.Conn(r.db).
		Where("goal_id = ? AND implementation_id = ?", goalID, implementationID).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
