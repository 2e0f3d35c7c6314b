package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/datatypes"

	"github.com/yungbote/wwfm-backend/internal/aggregation/mapper"
	"github.com/yungbote/wwfm-backend/internal/data/txn"
	repos "github.com/yungbote/wwfm-backend/internal/data/repos/ratings"
	types "github.com/yungbote/wwfm-backend/internal/domain/ratings"
	"github.com/yungbote/wwfm-backend/internal/observability"
	"github.com/yungbote/wwfm-backend/internal/platform/dbctx"
	"github.com/yungbote/wwfm-backend/internal/platform/logger"
)

var (
	ErrInvalidRating = errors.New("invalid rating")
	ErrLinkNotFound  = errors.New("goal/implementation link not found")
)

type RecordRatingInput struct {
	GoalID             uuid.UUID
	ImplementationID   uuid.UUID
	UserID             *uuid.UUID
	EffectivenessScore int
	SolutionCategory   string
	SolutionFields     json.RawMessage
	DataSource         types.DataSource
}

type RecordRatingResult struct {
	Rating     *types.Rating
	Link       *types.GoalImplementationLink
	Transition *types.TransitionEvent
}

// RatingService owns the write path of ratings and the ai -> human display
// transition of their links.
type RatingService interface {
	// RecordRating inserts the rating, updates the link counters, applies the
	// display transition and enqueues aggregation in one transaction.
	RecordRating(ctx context.Context, in RecordRatingInput) (*RecordRatingResult, error)
	// OnHumanRatingRecorded applies a human rating stored elsewhere to its
	// link. It returns the transition event when this rating caused one.
	OnHumanRatingRecorded(ctx context.Context, goalID, implementationID uuid.UUID, score int) (*types.TransitionEvent, error)
	GetLink(ctx context.Context, goalID, implementationID uuid.UUID) (*types.GoalImplementationLink, error)
}

type ratingService struct {
	log              *logger.Logger
	tx               txn.TxRunner
	ratings          repos.RatingRepo
	links            repos.LinkRepo
	queue            repos.QueueRepo
	mapper           *mapper.Mapper
	notifier         TransitionNotifier
	metrics          *observability.Metrics
	defaultThreshold int
	now              func() time.Time
}

func NewRatingService(
	baseLog *logger.Logger,
	tx txn.TxRunner,
	ratings repos.RatingRepo,
	links repos.LinkRepo,
	queue repos.QueueRepo,
	m *mapper.Mapper,
	notifier TransitionNotifier,
	metrics *observability.Metrics,
	defaultThreshold int,
) RatingService {
	if defaultThreshold <= 0 {
		defaultThreshold = types.DefaultTransitionThreshold
	}
	return &ratingService{
		log:              baseLog.With("service", "RatingService"),
		tx:               tx,
		ratings:          ratings,
		links:            links,
		queue:            queue,
		mapper:           m,
		notifier:         notifier,
		metrics:          metrics,
		defaultThreshold: defaultThreshold,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

func (s *ratingService) RecordRating(ctx context.Context, in RecordRatingInput) (*RecordRatingResult, error) {
	if in.DataSource == "" {
		in.DataSource = types.SourceHuman
	}
	fields, err := validateRating(in)
	if err != nil {
		return nil, err
	}

	ctx, span := observability.Tracer("services").Start(ctx, "RatingService.RecordRating")
	defer span.End()
	span.SetAttributes(
		attribute.String("goal_id", in.GoalID.String()),
		attribute.String("implementation_id", in.ImplementationID.String()),
		attribute.String("data_source", string(in.DataSource)),
	)

	out := &RecordRatingResult{}
	err = s.tx.InTx(ctx, func(dbc dbctx.Context) error {
		link, err := s.lockLink(dbc, in.GoalID, in.ImplementationID, in.SolutionCategory)
		if err != nil {
			return err
		}
		at := s.now()
		rating := &types.Rating{
			GoalID:             in.GoalID,
			ImplementationID:   in.ImplementationID,
			UserID:             in.UserID,
			EffectivenessScore: in.EffectivenessScore,
			SolutionFields:     fields,
			DataSource:         in.DataSource,
			CreatedAt:          at,
		}
		if err := s.ratings.Create(dbc, rating); err != nil {
			return fmt.Errorf("insert rating: %w", err)
		}
		ev, updated, err := s.apply(dbc, link, in.EffectivenessScore, in.DataSource, at)
		if err != nil {
			return err
		}
		out.Rating = rating
		out.Link = updated
		out.Transition = ev
		return nil
	})
	if err != nil {
		return nil, txn.Classify("RatingService.RecordRating", err)
	}

	s.metrics.IncRating(string(in.DataSource))
	s.log.WithContext(ctx).Debug("rating recorded",
		"rating_id", out.Rating.ID,
		"goal_id", in.GoalID,
		"implementation_id", in.ImplementationID,
		"data_source", in.DataSource,
	)
	if out.Transition != nil {
		span.SetAttributes(attribute.Bool("transitioned", true))
		s.notifier.Transitioned(ctx, *out.Transition)
	}
	return out, nil
}

func (s *ratingService) OnHumanRatingRecorded(ctx context.Context, goalID, implementationID uuid.UUID, score int) (*types.TransitionEvent, error) {
	if goalID == uuid.Nil || implementationID == uuid.Nil {
		return nil, fmt.Errorf("%w: goal and implementation ids are required", ErrInvalidRating)
	}
	if score < 1 || score > 5 {
		return nil, fmt.Errorf("%w: effectiveness score must be between 1 and 5", ErrInvalidRating)
	}

	var ev *types.TransitionEvent
	err := s.tx.InTx(ctx, func(dbc dbctx.Context) error {
		link, err := s.lockLink(dbc, goalID, implementationID, "")
		if err != nil {
			return err
		}
		ev, _, err = s.apply(dbc, link, score, types.SourceHuman, s.now())
		return err
	})
	if err != nil {
		return nil, txn.Classify("RatingService.OnHumanRatingRecorded", err)
	}
	s.metrics.IncRating(string(types.SourceHuman))
	if ev != nil {
		s.notifier.Transitioned(ctx, *ev)
	}
	return ev, nil
}

func (s *ratingService) GetLink(ctx context.Context, goalID, implementationID uuid.UUID) (*types.GoalImplementationLink, error) {
	link, err := s.links.Get(dbctx.Context{Ctx: ctx}, goalID, implementationID)
	if err != nil {
		return nil, txn.Classify("RatingService.GetLink", err)
	}
	if link == nil {
		return nil, ErrLinkNotFound
	}
	return link, nil
}

// lockLink creates the link on first rating and row-locks it, so concurrent
// raters of one pair serialise on the transition check.
func (s *ratingService) lockLink(dbc dbctx.Context, goalID, implementationID uuid.UUID, category string) (*types.GoalImplementationLink, error) {
	threshold := s.defaultThreshold
	if s.mapper != nil {
		threshold = s.mapper.TransitionThreshold(category, s.defaultThreshold)
	}
	if err := s.links.Ensure(dbc, goalID, implementationID, category, threshold); err != nil {
		return nil, fmt.Errorf("ensure link: %w", err)
	}
	link, err := s.links.GetForUpdate(dbc, goalID, implementationID)
	if err != nil {
		return nil, fmt.Errorf("lock link: %w", err)
	}
	if link == nil {
		return nil, ErrLinkNotFound
	}
	return link, nil
}

// apply runs inside the caller's transaction on a locked link.
func (s *ratingService) apply(dbc dbctx.Context, link *types.GoalImplementationLink, score int, source types.DataSource, at time.Time) (*types.TransitionEvent, *types.GoalImplementationLink, error) {
	if err := s.links.ApplyRating(dbc, link.ID, score, source, at); err != nil {
		return nil, nil, fmt.Errorf("update link counters: %w", err)
	}

	promoted := false
	if source == types.SourceHuman && link.DataDisplayMode == types.DisplayAI {
		var err error
		promoted, err = s.links.PromoteToHuman(dbc, link.ID, at)
		if err != nil {
			return nil, nil, fmt.Errorf("promote link: %w", err)
		}
	}

	if err := s.queue.Enqueue(dbc, link.GoalID, link.ImplementationID, at); err != nil {
		return nil, nil, fmt.Errorf("enqueue aggregation: %w", err)
	}

	updated, err := s.links.Get(dbc, link.GoalID, link.ImplementationID)
	if err != nil {
		return nil, nil, fmt.Errorf("reload link: %w", err)
	}
	if updated == nil {
		return nil, nil, ErrLinkNotFound
	}
	if !promoted {
		return nil, updated, nil
	}
	return &types.TransitionEvent{
		LinkID:           link.ID,
		GoalID:           link.GoalID,
		ImplementationID: link.ImplementationID,
		PreviousAIScore:  link.AvgEffectiveness,
		NewHumanScore:    updated.HumanAvgEffectiveness,
		HumanRatingCount: updated.HumanRatingCount,
		Threshold:        updated.TransitionThreshold,
		TransitionedAt:   at,
	}, updated, nil
}

func validateRating(in RecordRatingInput) (datatypes.JSON, error) {
	if in.GoalID == uuid.Nil || in.ImplementationID == uuid.Nil {
		return nil, fmt.Errorf("%w: goal and implementation ids are required", ErrInvalidRating)
	}
	if in.EffectivenessScore < 1 || in.EffectivenessScore > 5 {
		return nil, fmt.Errorf("%w: effectiveness score must be between 1 and 5", ErrInvalidRating)
	}
	if !in.DataSource.Valid() {
		return nil, fmt.Errorf("%w: unknown data source %q", ErrInvalidRating, in.DataSource)
	}
	raw := bytes.TrimSpace(in.SolutionFields)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return datatypes.JSON("{}"), nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: solution_fields must be a JSON object", ErrInvalidRating)
	}
	return datatypes.JSON(raw), nil
}
