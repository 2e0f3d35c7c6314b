package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/wwfm-backend/internal/aggregation/engine"
	repos "github.com/yungbote/wwfm-backend/internal/data/repos/ratings"
	types "github.com/yungbote/wwfm-backend/internal/domain/ratings"
	"github.com/yungbote/wwfm-backend/internal/observability"
	"github.com/yungbote/wwfm-backend/internal/platform/dbctx"
	"github.com/yungbote/wwfm-backend/internal/platform/logger"
)

// ErrClaimConflict means another processor claimed the entry first.
var ErrClaimConflict = errors.New("queue: entry claimed by another processor")

// AggregationFailure wraps an error raised while aggregating one entry.
type AggregationFailure struct {
	EntryID          uuid.UUID
	GoalID           uuid.UUID
	ImplementationID uuid.UUID
	Err              error
}

func (f *AggregationFailure) Error() string {
	return fmt.Sprintf("aggregate entry %s (goal=%s implementation=%s): %v", f.EntryID, f.GoalID, f.ImplementationID, f.Err)
}

func (f *AggregationFailure) Unwrap() error { return f.Err }

type Aggregator interface {
	AggregateLink(ctx context.Context, goalID, implementationID uuid.UUID) (*types.AggregatedFields, error)
}

type Config struct {
	BatchSize      int
	Concurrency    int
	StuckTimeout   time.Duration
	MaxAttempts    int
	RetryBase      time.Duration
	RetryMax       time.Duration
	ReconcileLimit int
}

func DefaultConfig() Config {
	return Config{
		BatchSize:      50,
		Concurrency:    4,
		StuckTimeout:   10 * time.Minute,
		MaxAttempts:    5,
		RetryBase:      30 * time.Second,
		RetryMax:       time.Hour,
		ReconcileLimit: 100,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = def.Concurrency
	}
	if c.StuckTimeout <= 0 {
		c.StuckTimeout = def.StuckTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.RetryBase <= 0 {
		c.RetryBase = def.RetryBase
	}
	if c.RetryMax < c.RetryBase {
		c.RetryMax = c.RetryBase
	}
	if c.ReconcileLimit <= 0 {
		c.ReconcileLimit = def.ReconcileLimit
	}
	return c
}

type EntryError struct {
	ID      uuid.UUID `json:"id"`
	Message string    `json:"message"`
}

// Result summarises one ProcessPendingJobs call. Dead-lettered entries are
// counted in Failed as well, so DeadLettered is a subset of Failed.
type Result struct {
	Processed    int          `json:"processed"`
	Failed       int          `json:"failed"`
	Skipped      int          `json:"skipped"`
	DeadLettered int          `json:"deadLettered"`
	Errors       []EntryError `json:"errors"`
}

// Metrics is a read-only snapshot of the queue. OldestPendingAge is in
// seconds and nil when nothing is pending.
type Metrics struct {
	PendingCount      int64    `json:"pendingCount"`
	ProcessingCount   int64    `json:"processingCount"`
	DeadLetteredCount int64    `json:"deadLetteredCount"`
	OldestPendingAge  *float64 `json:"oldestPendingAge"`
}

type Processor struct {
	log        *logger.Logger
	repo       repos.QueueRepo
	links      repos.LinkRepo
	claimer    Claimer
	aggregator Aggregator
	metrics    *observability.Metrics
	cfg        Config
	now        func() time.Time
}

// NewProcessor wires a processor. A nil claimer falls back to the
// compare-and-swap claimer over repo.
func NewProcessor(baseLog *logger.Logger, repo repos.QueueRepo, links repos.LinkRepo, claimer Claimer, aggregator Aggregator, metrics *observability.Metrics, cfg Config) *Processor {
	p := &Processor{
		log:        baseLog.With("component", "AggregationQueueProcessor"),
		repo:       repo,
		links:      links,
		aggregator: aggregator,
		metrics:    metrics,
		cfg:        cfg.withDefaults(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	if claimer == nil {
		claimer = NewClaimer(repo, func() time.Time { return p.now() })
	}
	p.claimer = claimer
	return p
}

// ProcessPendingJobs claims and aggregates up to one batch of due entries,
// oldest first. Entries fail independently; the returned error is reserved
// for failures to read the queue at all.
func (p *Processor) ProcessPendingJobs(ctx context.Context) (Result, error) {
	ctx, span := observability.Tracer("queue").Start(ctx, "queue.ProcessPendingJobs")
	defer span.End()

	res := Result{Errors: []EntryError{}}
	entries, err := p.repo.ListClaimable(dbctx.Context{Ctx: ctx}, p.now(), p.cfg.BatchSize)
	if err != nil {
		return res, fmt.Errorf("list claimable entries: %w", err)
	}
	span.SetAttributes(attribute.Int("entries", len(entries)))
	if len(entries) == 0 {
		return res, nil
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for _, entry := range entries {
		entry := entry
		g.Go(func() error {
			out := p.processEntry(ctx, entry)
			mu.Lock()
			defer mu.Unlock()
			switch out.kind {
			case outcomeProcessed:
				res.Processed++
			case outcomeSkipped:
				res.Skipped++
			case outcomeDeadLettered:
				res.DeadLettered++
				fallthrough
			case outcomeFailed:
				res.Failed++
			}
			if out.err != nil && out.kind != outcomeSkipped {
				res.Errors = append(res.Errors, EntryError{ID: entry.ID, Message: out.err.Error()})
			}
			return nil
		})
	}
	_ = g.Wait()

	p.metrics.ObserveSweep(res.Processed, res.Failed, res.Skipped, res.DeadLettered)
	span.SetAttributes(
		attribute.Int("processed", res.Processed),
		attribute.Int("failed", res.Failed),
	)
	if res.Processed > 0 || res.Failed > 0 {
		p.log.Info("aggregation queue processed",
			"processed", res.Processed,
			"failed", res.Failed,
			"skipped", res.Skipped,
			"dead_lettered", res.DeadLettered,
		)
	}
	return res, nil
}

type outcomeKind int

const (
	outcomeProcessed outcomeKind = iota
	outcomeSkipped
	outcomeFailed
	outcomeDeadLettered
)

type outcome struct {
	kind outcomeKind
	err  error
}

func (p *Processor) processEntry(ctx context.Context, entry *types.AggregationQueueEntry) (out outcome) {
	log := p.log.With("entry_id", entry.ID, "goal_id", entry.GoalID, "implementation_id", entry.ImplementationID)

	won, err := p.claimer.TryClaim(ctx, entry.ID)
	if err != nil {
		log.Warn("claim failed", "error", err)
		return outcome{kind: outcomeFailed, err: fmt.Errorf("claim: %w", err)}
	}
	if !won {
		log.Debug("entry skipped", "error", ErrClaimConflict)
		return outcome{kind: outcomeSkipped, err: ErrClaimConflict}
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("aggregation panic", "panic", r)
			out = p.fail(ctx, log, entry, fmt.Errorf("panic: %v", r))
		}
	}()

	_, err = p.aggregator.AggregateLink(ctx, entry.GoalID, entry.ImplementationID)
	if errors.Is(err, engine.ErrLinkNotFound) {
		log.Warn("dropping entry for unknown link")
		err = nil
	}
	if err != nil {
		return p.fail(ctx, log, entry, err)
	}

	deleted, err := p.repo.Complete(dbctx.Context{Ctx: ctx}, entry.ID, entry.Generation)
	if err != nil {
		// The snapshot is written; the entry will be reclaimed once stuck.
		log.Error("complete entry failed", "error", err)
		return outcome{kind: outcomeProcessed}
	}
	if !deleted {
		log.Debug("entry re-queued during aggregation")
	}
	return outcome{kind: outcomeProcessed}
}

// fail records cause against the claimed generation. Attempts are read back
// from the row, since the claim incremented them and a re-queue resets them.
func (p *Processor) fail(ctx context.Context, log *logger.Logger, entry *types.AggregationQueueEntry, cause error) outcome {
	failure := &AggregationFailure{
		EntryID:          entry.ID,
		GoalID:           entry.GoalID,
		ImplementationID: entry.ImplementationID,
		Err:              cause,
	}
	dbc := dbctx.Context{Ctx: ctx}
	attempts := entry.Attempts + 1
	if current, err := p.repo.Get(dbc, entry.GoalID, entry.ImplementationID); err != nil {
		log.Warn("reload entry failed", "error", err)
	} else if current != nil && current.Generation == entry.Generation {
		attempts = current.Attempts
	}

	now := p.now()
	deadLetter := attempts >= p.cfg.MaxAttempts
	next := now.Add(p.retryDelay(attempts))
	if deadLetter {
		next = now
	}
	applied, err := p.repo.Fail(dbc, entry.ID, entry.Generation, cause.Error(), next, deadLetter)
	if err != nil {
		log.Error("record failure failed", "error", err)
	}
	if err == nil && !applied {
		log.Warn("aggregation failed but entry was re-queued", "error", cause)
		return outcome{kind: outcomeFailed, err: failure}
	}
	if deadLetter {
		log.Error("entry dead-lettered", "attempts", attempts, "error", cause)
		return outcome{kind: outcomeDeadLettered, err: failure}
	}
	log.Warn("aggregation failed", "attempts", attempts, "retry_at", next, "error", cause)
	return outcome{kind: outcomeFailed, err: failure}
}

// AggregateNow enqueues one pair and aggregates it under the same claim the
// sweep uses. It returns ErrClaimConflict when a sweep already holds the pair;
// the re-queue then makes that sweep's holder run it again.
func (p *Processor) AggregateNow(ctx context.Context, goalID, implementationID uuid.UUID) (*types.AggregatedFields, error) {
	dbc := dbctx.Context{Ctx: ctx}
	if err := p.repo.Enqueue(dbc, goalID, implementationID, p.now()); err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}
	entry, err := p.repo.Get(dbc, goalID, implementationID)
	if err != nil {
		return nil, fmt.Errorf("load entry: %w", err)
	}
	if entry == nil {
		return nil, ErrClaimConflict
	}
	won, err := p.claimer.TryClaim(ctx, entry.ID)
	if err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}
	if !won {
		return nil, ErrClaimConflict
	}

	log := p.log.With("entry_id", entry.ID, "goal_id", goalID, "implementation_id", implementationID)
	agg, err := p.aggregator.AggregateLink(ctx, goalID, implementationID)
	if err != nil && !errors.Is(err, engine.ErrLinkNotFound) {
		out := p.fail(ctx, log, entry, err)
		return nil, out.err
	}
	if _, cerr := p.repo.Complete(dbc, entry.ID, entry.Generation); cerr != nil {
		log.Error("complete entry failed", "error", cerr)
	}
	return agg, err
}

// retryDelay is RetryBase doubled per prior attempt, capped at RetryMax.
func (p *Processor) retryDelay(attempts int) time.Duration {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.RetryBase
	bo.MaxInterval = p.cfg.RetryMax
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.Reset()
	d := bo.NextBackOff()
	for i := 1; i < attempts; i++ {
		d = bo.NextBackOff()
	}
	return d
}

// ClearStuckJobs releases claims held longer than the stuck timeout.
func (p *Processor) ClearStuckJobs(ctx context.Context) (int, error) {
	cutoff := p.now().Add(-p.cfg.StuckTimeout)
	n, err := p.repo.ResetStuck(dbctx.Context{Ctx: ctx}, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reset stuck entries: %w", err)
	}
	if n > 0 {
		p.log.Warn("released stuck aggregation entries", "count", n, "cutoff", cutoff)
	}
	p.metrics.AddStuckCleared(int(n))
	return int(n), nil
}

// GetQueueMetrics reads the queue without modifying it.
func (p *Processor) GetQueueMetrics(ctx context.Context) (Metrics, error) {
	now := p.now()
	counts, err := p.repo.Counts(dbctx.Context{Ctx: ctx}, now)
	if err != nil {
		return Metrics{}, fmt.Errorf("count queue: %w", err)
	}
	out := Metrics{
		PendingCount:      counts.Pending,
		ProcessingCount:   counts.Processing,
		DeadLetteredCount: counts.DeadLettered,
	}
	var age time.Duration
	if counts.OldestQueuedAt != nil {
		age = now.Sub(*counts.OldestQueuedAt)
		if age < 0 {
			age = 0
		}
		secs := age.Seconds()
		out.OldestPendingAge = &secs
	}
	p.metrics.SetQueueDepth(counts.Pending, counts.Processing, counts.DeadLettered, age)
	return out, nil
}

// ReconcileDirtyLinks enqueues links still flagged for aggregation that have
// no queue entry.
func (p *Processor) ReconcileDirtyLinks(ctx context.Context) (int, error) {
	if p.links == nil {
		return 0, nil
	}
	dbc := dbctx.Context{Ctx: ctx}
	pairs, err := p.links.ListDirtyUnqueued(dbc, p.cfg.ReconcileLimit)
	if err != nil {
		return 0, fmt.Errorf("list dirty links: %w", err)
	}
	now := p.now()
	n := 0
	for _, pair := range pairs {
		if err := p.repo.Enqueue(dbc, pair.GoalID, pair.ImplementationID, now); err != nil {
			return n, fmt.Errorf("enqueue dirty link: %w", err)
		}
		n++
	}
	if n > 0 {
		p.log.Info("re-enqueued dirty links", "count", n)
	}
	return n, nil
}

// CycleReport is the outcome of one RunCycle.
type CycleReport struct {
	Result           Result
	ClearedStuckJobs int
	Reconciled       int
	QueueMetrics     Metrics
}

// RunCycle is one full maintenance pass: release stuck claims, re-enqueue
// orphaned dirty links, process a batch, then snapshot the queue.
func (p *Processor) RunCycle(ctx context.Context) (CycleReport, error) {
	var rep CycleReport
	cleared, err := p.ClearStuckJobs(ctx)
	if err != nil {
		return rep, err
	}
	rep.ClearedStuckJobs = cleared

	reconciled, err := p.ReconcileDirtyLinks(ctx)
	if err != nil {
		p.log.Warn("dirty link reconcile failed", "error", err)
	}
	rep.Reconciled = reconciled

	res, err := p.ProcessPendingJobs(ctx)
	rep.Result = res
	if err != nil {
		return rep, err
	}

	m, err := p.GetQueueMetrics(ctx)
	if err != nil {
		return rep, err
	}
	rep.QueueMetrics = m
	return rep, nil
}
