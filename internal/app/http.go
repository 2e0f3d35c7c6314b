package app

import (
	"context"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/yungbote/wwfm-backend/internal/http"
	httpH "github.com/yungbote/wwfm-backend/internal/http/handlers"
	httpMW "github.com/yungbote/wwfm-backend/internal/http/middleware"
	"github.com/yungbote/wwfm-backend/internal/observability"
	"github.com/yungbote/wwfm-backend/internal/platform/logger"
)

type Middleware struct {
	Cron *httpMW.CronAuthMiddleware
}

type Handlers struct {
	Health *httpH.HealthHandler
	Cron   *httpH.CronHandler
	Rating *httpH.RatingHandler
}

func wireHandlers(log *logger.Logger, db *gorm.DB, services Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health: httpH.NewHealthHandler(pingDB(db)),
		Cron:   httpH.NewCronHandler(log, services.Processor),
		Rating: httpH.NewRatingHandler(services.Ratings),
	}
}

func wireMiddleware(log *logger.Logger, cfg Config) Middleware {
	log.Info("Wiring middleware...")
	return Middleware{
		Cron: httpMW.NewCronAuthMiddleware(log, cfg.CronSecret),
	}
}

func wireRouter(log *logger.Logger, cfg Config, metrics *observability.Metrics, handlers Handlers, middleware Middleware) *gin.Engine {
	return http.NewRouter(http.RouterConfig{
		Log:            log,
		Metrics:        metrics,
		CORSOrigins:    cfg.CORSOrigins,
		CronMiddleware: middleware.Cron,
		HealthHandler:  handlers.Health,
		CronHandler:    handlers.Cron,
		RatingHandler:  handlers.Rating,
	})
}

func pingDB(db *gorm.DB) func(ctx context.Context) error {
	if db == nil {
		return nil
	}
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
}
