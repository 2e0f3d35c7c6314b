package services

import (
	"context"

	types "github.com/yungbote/wwfm-backend/internal/domain/ratings"
	"github.com/yungbote/wwfm-backend/internal/observability"
	"github.com/yungbote/wwfm-backend/internal/platform/logger"
)

// TransitionPublisher fans a transition out to the presentation layer.
type TransitionPublisher interface {
	PublishTransition(ctx context.Context, ev types.TransitionEvent) error
}

type TransitionNotifier interface {
	Transitioned(ctx context.Context, ev types.TransitionEvent)
}

type transitionNotifier struct {
	log     *logger.Logger
	pub     TransitionPublisher
	metrics *observability.Metrics
}

// NewTransitionNotifier logs and counts every transition and forwards it to
// pub when one is configured. Publish errors are logged, never returned: the
// transition itself is already committed.
func NewTransitionNotifier(baseLog *logger.Logger, pub TransitionPublisher, metrics *observability.Metrics) TransitionNotifier {
	return &transitionNotifier{
		log:     baseLog.With("service", "TransitionNotifier"),
		pub:     pub,
		metrics: metrics,
	}
}

func (n *transitionNotifier) Transitioned(ctx context.Context, ev types.TransitionEvent) {
	if n == nil {
		return
	}
	n.metrics.IncTransition(string(types.DisplayAI), string(types.DisplayHuman))
	n.log.Info("link switched to human display",
		"link_id", ev.LinkID,
		"goal_id", ev.GoalID,
		"implementation_id", ev.ImplementationID,
		"previous_ai_score", ev.PreviousAIScore,
		"new_human_score", ev.NewHumanScore,
		"human_rating_count", ev.HumanRatingCount,
	)
	if n.pub == nil {
		return
	}
	if err := n.pub.PublishTransition(ctx, ev); err != nil {
		n.log.Warn("publish transition failed", "link_id", ev.LinkID, "error", err)
	}
}
