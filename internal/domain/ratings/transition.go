package ratings

import (
	"time"

	"github.com/google/uuid"
)

// TransitionEvent is emitted once per link when its display switches from AI
// seed content to human ratings.
type TransitionEvent struct {
	LinkID           uuid.UUID `json:"link_id"`
	GoalID           uuid.UUID `json:"goal_id"`
	ImplementationID uuid.UUID `json:"implementation_id"`
	PreviousAIScore  float64   `json:"previous_ai_score"`
	NewHumanScore    float64   `json:"new_human_score"`
	HumanRatingCount int       `json:"human_rating_count"`
	Threshold        int       `json:"transition_threshold"`
	TransitionedAt   time.Time `json:"transitioned_at"`
}
