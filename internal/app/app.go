package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/yungbote/wwfm-backend/internal/data/db"
	"github.com/yungbote/wwfm-backend/internal/http"
	"github.com/yungbote/wwfm-backend/internal/jobs/worker"
	"github.com/yungbote/wwfm-backend/internal/observability"
	"github.com/yungbote/wwfm-backend/internal/platform/logger"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Router   *gin.Engine
	Cfg      Config
	Metrics  *observability.Metrics
	Clients  Clients
	Repos    Repos
	Services Services

	pg        *db.PostgresService
	otelClose func(context.Context) error
	cancel    context.CancelFunc
}

func New(ctx context.Context) (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	otelCfg := observability.OtelConfigFromEnv()
	otelCfg.Environment = cfg.Environment
	otelClose := observability.InitOTel(ctx, log, otelCfg)

	pg, err := db.NewPostgresService(log, cfg.Postgres)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	clients, err := wireClients(log)
	if err != nil {
		_ = pg.Close()
		log.Sync()
		return nil, err
	}

	a, err := build(log, cfg, pg.DB(), clients, observability.Init(log))
	if err != nil {
		clients.Close()
		_ = pg.Close()
		log.Sync()
		return nil, err
	}
	a.pg = pg
	a.otelClose = otelClose
	return a, nil
}

// build wires everything above the database and client connections.
func build(log *logger.Logger, cfg Config, theDB *gorm.DB, clients Clients, metrics *observability.Metrics) (*App, error) {
	reposet := wireRepos(theDB, log)

	serviceset, err := wireServices(theDB, log, cfg, reposet, clients, metrics)
	if err != nil {
		return nil, err
	}

	handlerset := wireHandlers(log, theDB, serviceset)
	middleware := wireMiddleware(log, cfg)
	router := wireRouter(log, cfg, metrics, handlerset, middleware)

	return &App{
		Log:      log,
		DB:       theDB,
		Router:   router,
		Cfg:      cfg,
		Metrics:  metrics,
		Clients:  clients,
		Repos:    reposet,
		Services: serviceset,
	}, nil
}

// Migrate creates or updates the ratings, links and queue tables.
func (a *App) Migrate() error {
	if err := db.AutoMigrateAll(a.DB); err != nil {
		return fmt.Errorf("postgres automigrate: %w", err)
	}
	return nil
}

// Start launches the background collectors. It is a no-op when already started.
func (a *App) Start(ctx context.Context) {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if a.Metrics != nil {
		a.Metrics.StartPostgresCollector(ctx, a.Log, a.DB)
		a.Metrics.StartQueueCollector(ctx, a.Log, func(ctx context.Context) error {
			_, err := a.Services.Processor.GetQueueMetrics(ctx)
			return err
		})
		if a.Clients.TransitionBus != nil {
			a.Metrics.StartRedisCollector(ctx, a.Log, a.Clients.TransitionBus.Client())
		}
	}
}

// Serve runs the HTTP surface until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	addr := ":" + a.Cfg.Port
	a.Log.Info("Serving HTTP", "addr", addr)
	return (&http.Server{Engine: a.Router}).Run(ctx, addr)
}

// StartScheduler runs the aggregation cycle on the configured cron schedule
// until ctx is cancelled. It does not block.
func (a *App) StartScheduler(ctx context.Context) error {
	s, err := worker.NewScheduler(a.Log, a.Services.Processor, a.Cfg.CronSchedule, a.Cfg.CycleTimeout)
	if err != nil {
		return err
	}
	return s.Start(ctx)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.Clients.Close()
	if a.otelClose != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.otelClose(ctx)
		cancel()
	}
	if a.pg != nil {
		_ = a.pg.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
