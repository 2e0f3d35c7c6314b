package ratings

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DisplayMode selects which provenance tier a link shows.
type DisplayMode string

const (
	DisplayAI    DisplayMode = "ai"
	DisplayHuman DisplayMode = "human"
)

const DefaultTransitionThreshold = 3

// GoalImplementationLink carries the aggregate statistics of one goal/implementation pair.
type GoalImplementationLink struct {
	ID                    uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	GoalID                uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_goal_impl_link,priority:1" json:"goal_id"`
	ImplementationID      uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_goal_impl_link,priority:2" json:"implementation_id"`
	SolutionCategory      string         `gorm:"column:solution_category;type:text;not null;default:''" json:"solution_category"`
	HumanRatingCount      int            `gorm:"column:human_rating_count;not null;default:0" json:"human_rating_count"`
	RatingCount           int            `gorm:"column:rating_count;not null;default:0" json:"rating_count"`
	AvgEffectiveness      float64        `gorm:"column:avg_effectiveness;not null;default:0" json:"avg_effectiveness"`
	HumanAvgEffectiveness float64        `gorm:"column:human_avg_effectiveness;not null;default:0" json:"human_avg_effectiveness"`
	NeedsAggregation      bool           `gorm:"column:needs_aggregation;not null;default:false;index" json:"needs_aggregation"`
	DataDisplayMode       DisplayMode    `gorm:"column:data_display_mode;type:text;not null;default:'ai'" json:"data_display_mode"`
	TransitionThreshold   int            `gorm:"column:transition_threshold;not null;default:3" json:"transition_threshold"`
	AggregatedFields      datatypes.JSON `gorm:"column:aggregated_fields;type:jsonb" json:"aggregated_fields,omitempty"`
	LastRatingAt          *time.Time     `gorm:"column:last_rating_at" json:"last_rating_at,omitempty"`
	LastAggregatedAt      *time.Time     `gorm:"column:last_aggregated_at" json:"last_aggregated_at,omitempty"`
	TransitionedAt        *time.Time     `gorm:"column:transitioned_at" json:"transitioned_at,omitempty"`
	CreatedAt             time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt             time.Time      `gorm:"not null" json:"updated_at"`
}

func (GoalImplementationLink) TableName() string { return "goal_implementation_links" }

func (l *GoalImplementationLink) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
