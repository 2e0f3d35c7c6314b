package app

import (
	"strings"
	"time"

	"github.com/yungbote/wwfm-backend/internal/data/db"
	"github.com/yungbote/wwfm-backend/internal/domain/ratings"
	"github.com/yungbote/wwfm-backend/internal/jobs/queue"
	"github.com/yungbote/wwfm-backend/internal/jobs/worker"
	"github.com/yungbote/wwfm-backend/internal/platform/envutil"
	"github.com/yungbote/wwfm-backend/internal/platform/logger"
)

type Config struct {
	Port        string
	Environment string
	CORSOrigins []string

	Postgres db.PostgresConfig

	CronSecret   string
	CronSchedule string
	CycleTimeout time.Duration

	Queue               queue.Config
	TransitionThreshold int
	FieldOptionsPath    string
}

func LoadConfig(log *logger.Logger) Config {
	def := queue.DefaultConfig()
	cfg := Config{
		Port:        envutil.String("PORT", "8080"),
		Environment: envutil.String("APP_ENV", "development"),
		CORSOrigins: splitList(envutil.String("CORS_ORIGINS", "")),

		Postgres: db.PostgresConfigFromEnv(),

		CronSecret:   envutil.String("CRON_SECRET", ""),
		CronSchedule: envutil.String("CRON_SCHEDULE", worker.DefaultSchedule),
		CycleTimeout: envutil.Seconds("AGG_CYCLE_TIMEOUT_SECONDS", 4*time.Minute),

		Queue: queue.Config{
			BatchSize:      envutil.Int("AGG_BATCH_SIZE", def.BatchSize),
			Concurrency:    envutil.Int("AGG_CONCURRENCY", def.Concurrency),
			StuckTimeout:   envutil.Seconds("AGG_STUCK_TIMEOUT_SECONDS", def.StuckTimeout),
			MaxAttempts:    envutil.Int("AGG_MAX_ATTEMPTS", def.MaxAttempts),
			RetryBase:      envutil.Seconds("AGG_RETRY_BASE_SECONDS", def.RetryBase),
			RetryMax:       envutil.Seconds("AGG_RETRY_MAX_SECONDS", def.RetryMax),
			ReconcileLimit: envutil.Int("AGG_RECONCILE_LIMIT", def.ReconcileLimit),
		},
		TransitionThreshold: envutil.Int("TRANSITION_THRESHOLD", ratings.DefaultTransitionThreshold),
		FieldOptionsPath:    envutil.String("FIELD_OPTIONS_PATH", ""),
	}
	if cfg.CronSecret == "" && log != nil {
		log.Warn("CRON_SECRET is not set; cron endpoints are open")
	}
	return cfg
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
