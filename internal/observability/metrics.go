package observability

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/wwfm-backend/internal/platform/logger"
)

const namespace = "wwfm"

// Metrics holds every Prometheus collector of the service. A nil *Metrics is
// valid and turns every method into a no-op.
type Metrics struct {
	registry *prometheus.Registry

	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
	apiInflight prometheus.Gauge

	mappingMiss        *prometheus.CounterVec
	aggregations       *prometheus.CounterVec
	aggregationLatency prometheus.Histogram
	distributions      prometheus.Counter

	sweepEntries *prometheus.CounterVec
	stuckCleared prometheus.Counter
	queueDepth   *prometheus.GaugeVec
	queueOldest  prometheus.Gauge

	transitions *prometheus.CounterVec
	ratings     *prometheus.CounterVec

	pgStats   *prometheus.GaugeVec
	redisUp   prometheus.Gauge
	redisPing prometheus.Gauge
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	v := strings.TrimSpace(os.Getenv("METRICS_ENABLED"))
	if v == "" {
		return false
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func Current() *Metrics {
	return instance
}

func scrapeInterval() time.Duration {
	v := strings.TrimSpace(os.Getenv("METRICS_SCRAPE_INTERVAL_SECONDS"))
	if v == "" {
		return 10 * time.Second
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 10 * time.Second
	}
	return time.Duration(n) * time.Second
}

// Init returns the process-wide instance, or nil when METRICS_ENABLED is off.
func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		instance = New(reg)
		if log != nil {
			log.Info("metrics enabled")
		}
	})
	return instance
}

// New registers a fresh set of collectors on reg.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		apiRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Total API requests by method/route/status.",
		}, []string{"method", "route", "status"}),
		apiLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "API request latency in seconds by method/route/status.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"method", "route", "status"}),
		apiInflight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "api_inflight_requests",
			Help:      "In-flight API requests.",
		}),
		mappingMiss: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mapping_miss_total",
			Help:      "Raw field values that matched no dropdown option or alias.",
		}, []string{"category", "field"}),
		aggregations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregations_total",
			Help:      "Link aggregations by outcome.",
		}, []string{"status"}),
		aggregationLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "aggregation_duration_seconds",
			Help:      "Time spent aggregating one link.",
			Buckets:   prometheus.DefBuckets,
		}),
		distributions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "distributions_built_total",
			Help:      "Field distributions written into aggregated snapshots.",
		}),
		sweepEntries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_entries_total",
			Help:      "Aggregation queue entries handled by sweeps, by outcome.",
		}, []string{"outcome"}),
		stuckCleared: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_stuck_cleared_total",
			Help:      "Claims released by stuck-job recovery.",
		}),
		queueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Aggregation queue entries by state.",
		}, []string{"state"}),
		queueOldest: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_oldest_pending_age_seconds",
			Help:      "Age of the oldest pending aggregation entry.",
		}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "display_transitions_total",
			Help:      "Links switched between display modes.",
		}, []string{"from", "to"}),
		ratings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratings_recorded_total",
			Help:      "Ratings recorded by data source.",
		}, []string{"source"}),
		pgStats: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "postgres_pool",
			Help:      "database/sql pool statistics.",
		}, []string{"stat"}),
		redisUp: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "redis_up",
			Help:      "Redis reachability (1 = up).",
		}),
		redisPing: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "redis_ping_seconds",
			Help:      "Latency of the last Redis PING.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	if status == "" {
		status = "0"
	}
	m.apiRequests.WithLabelValues(method, route, status).Inc()
	m.apiLatency.WithLabelValues(method, route, status).Observe(dur.Seconds())
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

func (m *Metrics) IncMappingMiss(category, field string) {
	if m == nil {
		return
	}
	if category == "" {
		category = "unknown"
	}
	m.mappingMiss.WithLabelValues(category, field).Inc()
}

// APIRequestCounter exposes one request series, mostly for assertions.
func (m *Metrics) APIRequestCounter(method, route, status string) prometheus.Counter {
	return m.apiRequests.WithLabelValues(method, route, status)
}

// MappingMissCounter exposes one miss series, mostly for assertions.
func (m *Metrics) MappingMissCounter(category, field string) prometheus.Counter {
	return m.mappingMiss.WithLabelValues(category, field)
}

func (m *Metrics) ObserveAggregation(status string, fields int, dur time.Duration) {
	if m == nil {
		return
	}
	m.aggregations.WithLabelValues(status).Inc()
	m.aggregationLatency.Observe(dur.Seconds())
	if fields > 0 {
		m.distributions.Add(float64(fields))
	}
}

// ObserveSweep records the outcome counts of one processing sweep.
func (m *Metrics) ObserveSweep(processed, failed, skipped, deadLettered int) {
	if m == nil {
		return
	}
	m.sweepEntries.WithLabelValues("processed").Add(float64(processed))
	m.sweepEntries.WithLabelValues("failed").Add(float64(failed))
	m.sweepEntries.WithLabelValues("skipped").Add(float64(skipped))
	m.sweepEntries.WithLabelValues("dead_lettered").Add(float64(deadLettered))
}

func (m *Metrics) AddStuckCleared(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.stuckCleared.Add(float64(n))
}

func (m *Metrics) SetQueueDepth(pending, processing, deadLettered int64, oldestPending time.Duration) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues("pending").Set(float64(pending))
	m.queueDepth.WithLabelValues("processing").Set(float64(processing))
	m.queueDepth.WithLabelValues("dead_lettered").Set(float64(deadLettered))
	m.queueOldest.Set(oldestPending.Seconds())
}

func (m *Metrics) IncTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) IncRating(source string) {
	if m == nil {
		return
	}
	m.ratings.WithLabelValues(source).Inc()
}

func (m *Metrics) StartPostgresCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sqlDB, err := db.DB()
				if err != nil {
					if log != nil {
						log.Warn("metrics: postgres stats unavailable", "error", err)
					}
					continue
				}
				stats := sqlDB.Stats()
				m.pgStats.WithLabelValues("open_connections").Set(float64(stats.OpenConnections))
				m.pgStats.WithLabelValues("in_use").Set(float64(stats.InUse))
				m.pgStats.WithLabelValues("idle").Set(float64(stats.Idle))
				m.pgStats.WithLabelValues("wait_count").Set(float64(stats.WaitCount))
				m.pgStats.WithLabelValues("wait_duration_seconds").Set(stats.WaitDuration.Seconds())
				m.pgStats.WithLabelValues("max_open_connections").Set(float64(stats.MaxOpenConnections))
			}
		}
	}()
}

func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, rdb redis.UniversalClient) {
	if m == nil || rdb == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				start := time.Now()
				if err := rdb.Ping(ctx).Err(); err != nil {
					m.redisUp.Set(0)
					if log != nil {
						log.Warn("metrics: redis ping failed", "error", err)
					}
					continue
				}
				m.redisUp.Set(1)
				m.redisPing.Set(time.Since(start).Seconds())
			}
		}
	}()
}

// StartQueueCollector calls poll on every scrape tick. poll is expected to
// refresh the queue gauges (see SetQueueDepth).
func (m *Metrics) StartQueueCollector(ctx context.Context, log *logger.Logger, poll func(context.Context) error) {
	if m == nil || poll == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := poll(ctx); err != nil && log != nil {
					log.Warn("metrics: aggregation queue poll failed", "error", err)
				}
			}
		}
	}()
}
