package ratings

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AggregationQueueEntry is the pending aggregation work for one pair.
// Generation increments on every enqueue so a worker can tell whether the
// pair was re-queued while it held the claim.
type AggregationQueueEntry struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	GoalID           uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_agg_queue_pair,priority:1" json:"goal_id"`
	ImplementationID uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_agg_queue_pair,priority:2" json:"implementation_id"`
	QueuedAt         time.Time  `gorm:"column:queued_at;not null;index" json:"queued_at"`
	Processing       bool       `gorm:"column:processing;not null;default:false;index" json:"processing"`
	Generation       int64      `gorm:"column:generation;not null;default:1" json:"generation"`
	Attempts         int        `gorm:"column:attempts;not null;default:0" json:"attempts"`
	LastError        string     `gorm:"column:last_error;type:text" json:"last_error,omitempty"`
	ClaimedAt        *time.Time `gorm:"column:claimed_at" json:"claimed_at,omitempty"`
	NextAttemptAt    *time.Time `gorm:"column:next_attempt_at;index" json:"next_attempt_at,omitempty"`
	DeadLetteredAt   *time.Time `gorm:"column:dead_lettered_at;index" json:"dead_lettered_at,omitempty"`
}

func (AggregationQueueEntry) TableName() string { return "aggregation_queue" }

func (e *AggregationQueueEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
