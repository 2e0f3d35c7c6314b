package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/wwfm-backend/internal/http/handlers"
	httpMW "github.com/yungbote/wwfm-backend/internal/http/middleware"
	"github.com/yungbote/wwfm-backend/internal/observability"
	"github.com/yungbote/wwfm-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	Metrics     *observability.Metrics
	ServiceName string
	CORSOrigins []string

	CronMiddleware *httpMW.CronAuthMiddleware

	HealthHandler *httpH.HealthHandler
	CronHandler   *httpH.CronHandler
	RatingHandler *httpH.RatingHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	log := cfg.Log
	if log == nil {
		log = logger.Nop()
	}
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "wwfm-aggregation"
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins...))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	api := r.Group("/api")
	{
		if cfg.RatingHandler != nil {
			api.POST("/ratings", cfg.RatingHandler.RecordRating)
			api.GET("/goals/:goalId/implementations/:implementationId", cfg.RatingHandler.GetLink)
		}
	}

	cron := r.Group("/cron")
	{
		if cfg.CronMiddleware != nil {
			cron.Use(cfg.CronMiddleware.RequireCronSecret())
		}

		// Aggregation queue (scheduler entrypoint)
		if cfg.CronHandler != nil {
			cron.POST("/process-aggregation-queue", cfg.CronHandler.ProcessAggregationQueue)
			cron.GET("/process-aggregation-queue", cfg.CronHandler.QueueMetrics)
		}
	}

	return r
}
