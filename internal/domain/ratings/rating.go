package ratings

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DataSource tags the provenance of a rating row.
type DataSource string

const (
	SourceHuman DataSource = "human"
	SourceAI    DataSource = "ai"
)

func (s DataSource) Valid() bool { return s == SourceHuman || s == SourceAI }

// Rating is one user's structured submission for a goal/implementation pair.
// Rows are append-only: corrections arrive as new rows.
type Rating struct {
	ID                 uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	GoalID             uuid.UUID      `gorm:"type:uuid;not null;index:idx_rating_pair,priority:1" json:"goal_id"`
	ImplementationID   uuid.UUID      `gorm:"type:uuid;not null;index:idx_rating_pair,priority:2" json:"implementation_id"`
	UserID             *uuid.UUID     `gorm:"type:uuid;index" json:"user_id,omitempty"`
	EffectivenessScore int            `gorm:"column:effectiveness_score;not null" json:"effectiveness_score"`
	SolutionFields     datatypes.JSON `gorm:"column:solution_fields;type:jsonb" json:"solution_fields"`
	DataSource         DataSource     `gorm:"column:data_source;type:text;not null;index" json:"data_source"`
	CreatedAt          time.Time      `gorm:"not null;index" json:"created_at"`
}

func (Rating) TableName() string { return "ratings" }

func (r *Rating) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	return nil
}
