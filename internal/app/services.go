package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/wwfm-backend/internal/aggregation/engine"
	"github.com/yungbote/wwfm-backend/internal/aggregation/mapper"
	"github.com/yungbote/wwfm-backend/internal/data/txn"
	"github.com/yungbote/wwfm-backend/internal/jobs/queue"
	"github.com/yungbote/wwfm-backend/internal/observability"
	"github.com/yungbote/wwfm-backend/internal/platform/logger"
	"github.com/yungbote/wwfm-backend/internal/services"
)

type Services struct {
	Mapper    *mapper.Mapper
	Engine    *engine.Engine
	Processor *queue.Processor
	Notifier  services.TransitionNotifier
	Ratings   services.RatingService
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, repos Repos, clients Clients, metrics *observability.Metrics) (Services, error) {
	log.Info("Wiring services...")

	opts, err := mapper.LoadOptions(cfg.FieldOptionsPath)
	if err != nil {
		return Services{}, fmt.Errorf("load field options: %w", err)
	}
	m := mapper.New(opts)

	eng := engine.New(log, repos.Rating, repos.Link, m, metrics)
	processor := queue.NewProcessor(log, repos.Queue, repos.Link, nil, eng, metrics, cfg.Queue)

	// A nil bus keeps transitions log-only.
	var pub services.TransitionPublisher
	if clients.TransitionBus != nil {
		pub = clients.TransitionBus
	}
	notifier := services.NewTransitionNotifier(log, pub, metrics)

	ratingSvc := services.NewRatingService(
		log,
		txn.NewGormTxRunner(db),
		repos.Rating,
		repos.Link,
		repos.Queue,
		m,
		notifier,
		metrics,
		cfg.TransitionThreshold,
	)

	return Services{
		Mapper:    m,
		Engine:    eng,
		Processor: processor,
		Notifier:  notifier,
		Ratings:   ratingSvc,
	}, nil
}
