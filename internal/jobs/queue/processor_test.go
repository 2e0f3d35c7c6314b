package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/wwfm-backend/internal/aggregation/engine"
	repos "github.com/yungbote/wwfm-backend/internal/data/repos/ratings"
	"github.com/yungbote/wwfm-backend/internal/data/repos/testutil"
	types "github.com/yungbote/wwfm-backend/internal/domain/ratings"
	"github.com/yungbote/wwfm-backend/internal/observability"
	"github.com/yungbote/wwfm-backend/internal/platform/dbctx"
)

// countingAggregator records how often each pair is aggregated and the
// highest number of simultaneous runs seen for any single pair.
type countingAggregator struct {
	mu       sync.Mutex
	inflight map[uuid.UUID]int
	calls    map[uuid.UUID]int
	maxPair  int
	delay    time.Duration
	fail     func(goalID uuid.UUID, call int) error
	during   func(goalID, implementationID uuid.UUID)
}

func newCountingAggregator() *countingAggregator {
	return &countingAggregator{
		inflight: map[uuid.UUID]int{},
		calls:    map[uuid.UUID]int{},
	}
}

func (a *countingAggregator) AggregateLink(ctx context.Context, goalID, implementationID uuid.UUID) (*types.AggregatedFields, error) {
	a.mu.Lock()
	a.inflight[goalID]++
	a.calls[goalID]++
	call := a.calls[goalID]
	if a.inflight[goalID] > a.maxPair {
		a.maxPair = a.inflight[goalID]
	}
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.inflight[goalID]--
		a.mu.Unlock()
	}()

	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	if a.during != nil {
		a.during(goalID, implementationID)
	}
	if a.fail != nil {
		if err := a.fail(goalID, call); err != nil {
			return nil, err
		}
	}
	return &types.AggregatedFields{}, nil
}

func (a *countingAggregator) callsFor(goalID uuid.UUID) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[goalID]
}

type harness struct {
	queue repos.QueueRepo
	links repos.LinkRepo
	agg   *countingAggregator
	clock time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	return &harness{
		queue: repos.NewQueueRepo(db, log),
		links: repos.NewLinkRepo(db, log),
		agg:   newCountingAggregator(),
		clock: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (h *harness) processor(t *testing.T, cfg Config) *Processor {
	t.Helper()
	p := NewProcessor(testutil.Logger(t), h.queue, h.links, nil, h.agg, observability.New(prometheus.NewRegistry()), cfg)
	p.now = func() time.Time { return h.clock }
	return p
}

func (h *harness) enqueue(t *testing.T, n int) []uuid.UUID {
	t.Helper()
	ids := make([]uuid.UUID, n)
	for i := range ids {
		ids[i] = uuid.New()
		require.NoError(t, h.queue.Enqueue(dbctx.Context{Ctx: context.Background()}, ids[i], ids[i], h.clock.Add(time.Duration(i-n)*time.Second)))
	}
	return ids
}

func TestProcessPendingJobsDrainsQueue(t *testing.T) {
	h := newHarness(t)
	goals := h.enqueue(t, 5)
	p := h.processor(t, Config{BatchSize: 10, Concurrency: 2})

	res, err := p.ProcessPendingJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, res.Processed)
	assert.Equal(t, 0, res.Failed)
	assert.Empty(t, res.Errors)
	for _, g := range goals {
		assert.Equal(t, 1, h.agg.callsFor(g))
	}

	m, err := p.GetQueueMetrics(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 0, m.PendingCount)
	assert.Nil(t, m.OldestPendingAge)
}

func TestProcessPendingJobsRespectsBatchSize(t *testing.T) {
	h := newHarness(t)
	goals := h.enqueue(t, 3)
	p := h.processor(t, Config{BatchSize: 2, Concurrency: 1})

	res, err := p.ProcessPendingJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 1, h.agg.callsFor(goals[0]), "oldest entry goes first")
	assert.Equal(t, 1, h.agg.callsFor(goals[1]))
	assert.Equal(t, 0, h.agg.callsFor(goals[2]))
}

func TestConcurrentProcessorsAggregateEachPairOnce(t *testing.T) {
	h := newHarness(t)
	goals := h.enqueue(t, 12)
	h.agg.delay = 5 * time.Millisecond

	var total atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		p := h.processor(t, Config{BatchSize: 50, Concurrency: 4})
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := p.ProcessPendingJobs(context.Background())
			assert.NoError(t, err)
			total.Add(int64(res.Processed))
		}()
	}
	wg.Wait()

	assert.EqualValues(t, len(goals), total.Load())
	assert.Equal(t, 1, h.agg.maxPair)
	for _, g := range goals {
		assert.Equal(t, 1, h.agg.callsFor(g))
	}
}

func TestLostClaimIsSkipped(t *testing.T) {
	h := newHarness(t)
	goals := h.enqueue(t, 1)
	p := h.processor(t, Config{})
	p.claimer = claimerFunc(func(ctx context.Context, id uuid.UUID) (bool, error) { return false, nil })

	res, err := p.ProcessPendingJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 0, res.Processed)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 0, h.agg.callsFor(goals[0]))
}

func TestFailedEntryIsRetriedAfterBackoff(t *testing.T) {
	h := newHarness(t)
	goals := h.enqueue(t, 2)
	h.agg.fail = func(goalID uuid.UUID, call int) error {
		if goalID == goals[0] && call == 1 {
			return errors.New("transient")
		}
		return nil
	}
	p := h.processor(t, Config{RetryBase: time.Minute, RetryMax: time.Hour, MaxAttempts: 3})

	res, err := p.ProcessPendingJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	entry, _ := h.queue.Get(dbctx.Context{Ctx: context.Background()}, goals[0], goals[0])
	require.NotNil(t, entry)
	assert.Equal(t, entry.ID, res.Errors[0].ID)
	assert.Contains(t, res.Errors[0].Message, "transient")
	assert.False(t, entry.Processing)
	assert.Equal(t, 1, entry.Attempts)

	res, err = p.ProcessPendingJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed, "entry waits for its retry delay")

	h.clock = h.clock.Add(2 * time.Minute)
	res, err = p.ProcessPendingJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 2, h.agg.callsFor(goals[0]))
}

func TestEntryIsDeadLetteredAfterMaxAttempts(t *testing.T) {
	h := newHarness(t)
	goals := h.enqueue(t, 1)
	h.agg.fail = func(uuid.UUID, int) error { return errors.New("permanent") }
	p := h.processor(t, Config{RetryBase: time.Second, RetryMax: time.Second, MaxAttempts: 2})

	res, err := p.ProcessPendingJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 0, res.DeadLettered)

	h.clock = h.clock.Add(time.Minute)
	res, err = p.ProcessPendingJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.DeadLettered)

	h.clock = h.clock.Add(time.Hour)
	res, err = p.ProcessPendingJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed+res.Failed)
	assert.Equal(t, 2, h.agg.callsFor(goals[0]))

	m, err := p.GetQueueMetrics(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, m.DeadLetteredCount)
	assert.EqualValues(t, 0, m.PendingCount)
}

func TestPanickingAggregationIsAFailure(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, 1)
	h.agg.during = func(uuid.UUID, uuid.UUID) { panic("boom") }
	p := h.processor(t, Config{})

	res, err := p.ProcessPendingJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, "panic")
}

func TestRequeueDuringAggregationRunsAgain(t *testing.T) {
	h := newHarness(t)
	goals := h.enqueue(t, 1)
	once := sync.Once{}
	h.agg.during = func(goalID, implementationID uuid.UUID) {
		once.Do(func() {
			require.NoError(t, h.queue.Enqueue(dbctx.Context{Ctx: context.Background()}, goalID, implementationID, h.clock))
		})
	}
	p := h.processor(t, Config{})

	res, err := p.ProcessPendingJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)

	entry, err := h.queue.Get(dbctx.Context{Ctx: context.Background()}, goals[0], goals[0])
	require.NoError(t, err)
	require.NotNil(t, entry, "re-queued entry must survive completion")
	assert.False(t, entry.Processing)

	res, err = p.ProcessPendingJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 2, h.agg.callsFor(goals[0]))
}

func TestRequeueDuringLastAttemptIsNotDeadLettered(t *testing.T) {
	h := newHarness(t)
	goals := h.enqueue(t, 1)
	dbc := dbctx.Context{Ctx: context.Background()}
	h.agg.fail = func(goalID uuid.UUID, call int) error {
		if call <= 2 {
			return errors.New("permanent")
		}
		return nil
	}
	h.agg.during = func(goalID, implementationID uuid.UUID) {
		if h.agg.callsFor(goalID) == 2 {
			require.NoError(t, h.queue.Enqueue(dbc, goalID, implementationID, h.clock))
		}
	}
	p := h.processor(t, Config{RetryBase: time.Second, RetryMax: time.Second, MaxAttempts: 2})

	res, err := p.ProcessPendingJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	h.clock = h.clock.Add(time.Minute)
	res, err = p.ProcessPendingJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 0, res.DeadLettered, "re-queued work must not inherit the stale attempt count")

	entry, err := h.queue.Get(dbc, goals[0], goals[0])
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Nil(t, entry.DeadLetteredAt)
	assert.Nil(t, entry.NextAttemptAt, "re-queued work runs without backoff")
	assert.False(t, entry.Processing)
	assert.Equal(t, 0, entry.Attempts)

	res, err = p.ProcessPendingJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 3, h.agg.callsFor(goals[0]))
}

func TestClearStuckJobsRecoversCrashedClaim(t *testing.T) {
	h := newHarness(t)
	goals := h.enqueue(t, 1)
	dbc := dbctx.Context{Ctx: context.Background()}
	entry, _ := h.queue.Get(dbc, goals[0], goals[0])
	won, err := h.queue.TryClaim(dbc, entry.ID, h.clock.Add(-15*time.Minute))
	require.NoError(t, err)
	require.True(t, won)

	p := h.processor(t, Config{StuckTimeout: 10 * time.Minute})
	res, err := p.ProcessPendingJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed)

	m, err := p.GetQueueMetrics(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, m.ProcessingCount)

	n, err := p.ClearStuckJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	res, err = p.ProcessPendingJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
}

func TestClearStuckJobsLeavesFreshClaims(t *testing.T) {
	h := newHarness(t)
	goals := h.enqueue(t, 1)
	dbc := dbctx.Context{Ctx: context.Background()}
	entry, _ := h.queue.Get(dbc, goals[0], goals[0])
	_, err := h.queue.TryClaim(dbc, entry.ID, h.clock.Add(-time.Minute))
	require.NoError(t, err)

	p := h.processor(t, Config{StuckTimeout: 10 * time.Minute})
	n, err := p.ClearStuckJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestGetQueueMetricsIsReadOnly(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, 3)
	p := h.processor(t, Config{})

	first, err := p.GetQueueMetrics(context.Background())
	require.NoError(t, err)
	second, err := p.GetQueueMetrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 3, first.PendingCount)
	require.NotNil(t, first.OldestPendingAge)
	assert.InDelta(t, 3.0, *first.OldestPendingAge, 0.001)
}

func TestUnknownLinkEntryIsDropped(t *testing.T) {
	h := newHarness(t)
	goals := h.enqueue(t, 1)
	h.agg.fail = func(uuid.UUID, int) error { return engine.ErrLinkNotFound }
	p := h.processor(t, Config{})

	res, err := p.ProcessPendingJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	entry, err := h.queue.Get(dbctx.Context{Ctx: context.Background()}, goals[0], goals[0])
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestRunCycleReconcilesDirtyLinks(t *testing.T) {
	h := newHarness(t)
	dbc := dbctx.Context{Ctx: context.Background()}
	goalID := uuid.New()
	require.NoError(t, h.links.Ensure(dbc, goalID, goalID, "", 0))
	link, _ := h.links.Get(dbc, goalID, goalID)
	require.NoError(t, h.links.ApplyRating(dbc, link.ID, 5, types.SourceHuman, h.clock))

	p := h.processor(t, Config{})
	rep, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Reconciled)
	assert.Equal(t, 1, rep.Result.Processed)
	assert.Equal(t, 1, h.agg.callsFor(goalID))
	assert.EqualValues(t, 0, rep.QueueMetrics.PendingCount)
}

func TestRetryDelayDoublesUpToCap(t *testing.T) {
	p := &Processor{cfg: Config{RetryBase: 30 * time.Second, RetryMax: 2 * time.Minute}.withDefaults()}
	assert.Equal(t, 30*time.Second, p.retryDelay(1))
	assert.Equal(t, time.Minute, p.retryDelay(2))
	assert.Equal(t, 2*time.Minute, p.retryDelay(3))
	assert.Equal(t, 2*time.Minute, p.retryDelay(8))
}

type claimerFunc func(ctx context.Context, id uuid.UUID) (bool, error)

func (f claimerFunc) TryClaim(ctx context.Context, id uuid.UUID) (bool, error) { return f(ctx, id) }

func TestAggregateNowRespectsHeldClaim(t *testing.T) {
	h := newHarness(t)
	goals := h.enqueue(t, 1)
	dbc := dbctx.Context{Ctx: context.Background()}
	entry, _ := h.queue.Get(dbc, goals[0], goals[0])
	won, err := h.queue.TryClaim(dbc, entry.ID, h.clock)
	require.NoError(t, err)
	require.True(t, won)

	p := h.processor(t, Config{})
	_, err = p.AggregateNow(context.Background(), goals[0], goals[0])
	assert.ErrorIs(t, err, ErrClaimConflict)
	assert.Equal(t, 0, h.agg.callsFor(goals[0]))

	held, _ := h.queue.Get(dbc, goals[0], goals[0])
	require.NotNil(t, held)
	assert.True(t, held.Processing, "the holder keeps its claim")
	assert.Greater(t, held.Generation, entry.Generation, "the holder will run the pair again")
}

func TestAggregateNowClaimsAndCompletes(t *testing.T) {
	h := newHarness(t)
	goalID := uuid.New()
	p := h.processor(t, Config{})

	agg, err := p.AggregateNow(context.Background(), goalID, goalID)
	require.NoError(t, err)
	assert.NotNil(t, agg)
	assert.Equal(t, 1, h.agg.callsFor(goalID))

	entry, err := h.queue.Get(dbctx.Context{Ctx: context.Background()}, goalID, goalID)
	require.NoError(t, err)
	assert.Nil(t, entry)
}
