package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/yungbote/wwfm-backend/internal/jobs/queue"
	"github.com/yungbote/wwfm-backend/internal/platform/logger"
)

const DefaultSchedule = "*/5 * * * *"

type Cycle interface {
	RunCycle(ctx context.Context) (queue.CycleReport, error)
}

// Scheduler runs the aggregation cycle on a cron schedule inside the process.
// It is an alternative to an external scheduler hitting the cron endpoint;
// both can run at once because claims are exclusive in the database.
type Scheduler struct {
	log      *logger.Logger
	cycle    Cycle
	schedule string
	timeout  time.Duration
}

func NewScheduler(baseLog *logger.Logger, cycle Cycle, schedule string, timeout time.Duration) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	if timeout <= 0 {
		timeout = 4 * time.Minute
	}
	return &Scheduler{
		log:      baseLog.With("component", "AggregationScheduler"),
		cycle:    cycle,
		schedule: schedule,
		timeout:  timeout,
	}, nil
}

// Start registers the cycle and returns; the cron goroutine stops when ctx is
// done. Overlapping ticks are skipped while a cycle is still running.
func (s *Scheduler) Start(ctx context.Context) error {
	clog := cronLogger{log: s.log}
	c := cron.New(cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)))
	if _, err := c.AddFunc(s.schedule, func() { s.RunOnce(ctx) }); err != nil {
		return err
	}
	c.Start()
	s.log.Info("aggregation scheduler started", "schedule", s.schedule)
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		s.log.Info("aggregation scheduler stopped")
	}()
	return nil
}

// RunOnce executes one cycle with the configured timeout. A panicking cycle
// is logged and swallowed so the next tick still runs.
func (s *Scheduler) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("aggregation cycle panic", "panic", r)
		}
	}()

	start := time.Now()
	rep, err := s.cycle.RunCycle(runCtx)
	if err != nil {
		s.log.Warn("aggregation cycle failed", "error", err)
		return
	}
	s.log.Debug("aggregation cycle finished",
		"processed", rep.Result.Processed,
		"failed", rep.Result.Failed,
		"cleared_stuck", rep.ClearedStuckJobs,
		"reconciled", rep.Reconciled,
		"pending", rep.QueueMetrics.PendingCount,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

type cronLogger struct{ log *logger.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
