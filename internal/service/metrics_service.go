package service

import (
	"net/http"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "mayegue"

// MetricsService owns a private Prometheus registry plus a few running totals
// for the JSON snapshot on the admin console. Every method is safe on a nil
// receiver so services can run without metrics.
type MetricsService struct {
	handler http.Handler

	httpDuration *prometheus.HistogramVec
	httpTotal    *prometheus.CounterVec
	cacheLookups *prometheus.CounterVec
	cacheLatency prometheus.Histogram
	cacheWrites  prometheus.Histogram
	dbDuration   *prometheus.HistogramVec
	migrations   *prometheus.CounterVec
	migrationDur prometheus.Histogram
	reconciled   *prometheus.CounterVec
	guestAccess  *prometheus.CounterVec
	progress     *prometheus.CounterVec
	achievements prometheus.Counter
	adminActions *prometheus.CounterVec
	queueItems   *prometheus.GaugeVec
	queueResults *prometheus.CounterVec

	totals struct {
		requests   atomic.Uint64
		requestNs  atomic.Uint64
		cacheHits  atomic.Uint64
		cacheMiss  atomic.Uint64
		dbQueries  atomic.Uint64
		dbNs       atomic.Uint64
		pending    atomic.Int64
		exhausted  atomic.Int64
		migrated   atomic.Uint64
		migrateErr atomic.Uint64
	}
}

// NewMetricsService registers every collector on a fresh registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(registry)

	m := &MetricsService{handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})}
	m.httpDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace, Subsystem: "http", Name: "request_duration_seconds",
		Help: "HTTP request latency by route.", Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
	m.httpTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace, Subsystem: "http", Name: "requests_total",
		Help: "HTTP requests by route.",
	}, []string{"method", "route", "status"})
	m.cacheLookups = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace, Subsystem: "cache", Name: "lookups_total",
		Help: "Cache lookups by result.",
	}, []string{"result"})
	m.cacheLatency = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace, Subsystem: "cache", Name: "read_seconds",
		Help: "Cache read latency.", Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})
	m.cacheWrites = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace, Subsystem: "cache", Name: "write_seconds",
		Help: "Cache write latency.", Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})
	m.dbDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace, Subsystem: "store", Name: "query_seconds",
		Help: "Local store query latency by query.", Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
	}, []string{"query"})
	m.migrations = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace, Subsystem: "migration", Name: "runs_total",
		Help: "Migration attempts by version and result.",
	}, []string{"version", "result"})
	m.migrationDur = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace, Subsystem: "migration", Name: "duration_seconds",
		Help: "Time spent applying one migration.", Buckets: prometheus.DefBuckets,
	})
	m.reconciled = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace, Subsystem: "identity", Name: "reconciliations_total",
		Help: "Identity reconciliations by outcome.",
	}, []string{"outcome"})
	m.guestAccess = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace, Subsystem: "guest", Name: "access_total",
		Help: "Guest meter decisions by content type and result.",
	}, []string{"content_type", "result"})
	m.progress = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace, Subsystem: "progress", Name: "records_total",
		Help: "Progress writes by status.",
	}, []string{"status"})
	m.achievements = f.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace, Subsystem: "progress", Name: "achievements_granted_total",
		Help: "Achievements newly granted.",
	})
	m.adminActions = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace, Subsystem: "admin", Name: "actions_total",
		Help: "Privileged actions by action and outcome.",
	}, []string{"action", "outcome"})
	m.queueItems = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace, Subsystem: "offline_queue", Name: "items",
		Help: "Offline queue items by state.",
	}, []string{"state"})
	m.queueResults = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace, Subsystem: "offline_queue", Name: "attempts_total",
		Help: "Offline write attempts by result.",
	}, []string{"result"})
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records one served request.
func (m *MetricsService) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.httpDuration.WithLabelValues(method, route, code).Observe(duration.Seconds())
	m.httpTotal.WithLabelValues(method, route, code).Inc()
	m.totals.requests.Add(1)
	m.totals.requestNs.Add(uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records a cache read.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		m.totals.cacheHits.Add(1)
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
	m.totals.cacheMiss.Add(1)
}

// ObserveCacheWrite records a cache write.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrites.Observe(duration.Seconds())
}

// ObserveDBQuery records a timed store query.
func (m *MetricsService) ObserveDBQuery(query string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbDuration.WithLabelValues(query).Observe(duration.Seconds())
	m.totals.dbQueries.Add(1)
	m.totals.dbNs.Add(uint64(duration.Nanoseconds()))
}

// MigrationApplied implements migration.Recorder.
func (m *MetricsService) MigrationApplied(version string, duration time.Duration) {
	if m == nil {
		return
	}
	m.migrations.WithLabelValues(version, "applied").Inc()
	m.migrationDur.Observe(duration.Seconds())
	m.totals.migrated.Add(1)
}

// MigrationFailed implements migration.Recorder.
func (m *MetricsService) MigrationFailed(version string) {
	if m == nil {
		return
	}
	m.migrations.WithLabelValues(version, "failed").Inc()
	m.totals.migrateErr.Add(1)
}

// RecordReconciliation counts a reconciliation outcome (created, updated, retried, failed).
func (m *MetricsService) RecordReconciliation(outcome string) {
	if m == nil {
		return
	}
	m.reconciled.WithLabelValues(outcome).Inc()
}

// RecordGuestAccess counts a guest meter decision.
func (m *MetricsService) RecordGuestAccess(contentType string, allowed bool) {
	if m == nil {
		return
	}
	m.guestAccess.WithLabelValues(contentType, outcomeLabel(allowed, "allowed", "denied")).Inc()
}

// RecordProgress counts a progress write.
func (m *MetricsService) RecordProgress(status string) {
	if m == nil {
		return
	}
	m.progress.WithLabelValues(status).Inc()
}

// RecordAchievementGranted counts newly granted achievements.
func (m *MetricsService) RecordAchievementGranted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.achievements.Add(float64(n))
}

// RecordAdminAction counts a privileged action that passed the role check.
func (m *MetricsService) RecordAdminAction(action string, err error) {
	if m == nil {
		return
	}
	m.adminActions.WithLabelValues(action, outcomeLabel(err == nil, "success", "failure")).Inc()
}

// RecordQueueAttempt counts an offline write attempt (delivered, queued,
// rejected, failed, exhausted).
func (m *MetricsService) RecordQueueAttempt(result string) {
	if m == nil {
		return
	}
	m.queueResults.WithLabelValues(result).Inc()
}

// SetQueueDepth publishes the offline queue gauges.
func (m *MetricsService) SetQueueDepth(pending, processed, exhausted int) {
	if m == nil {
		return
	}
	m.queueItems.WithLabelValues("pending").Set(float64(pending))
	m.queueItems.WithLabelValues("processed").Set(float64(processed))
	m.queueItems.WithLabelValues("exhausted").Set(float64(exhausted))
	m.totals.pending.Store(int64(pending))
	m.totals.exhausted.Store(int64(exhausted))
}

func outcomeLabel(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}

// MetricsSnapshot is the JSON summary served on the admin console.
type MetricsSnapshot struct {
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	DBQueryCount             uint64    `json:"db_query_count"`
	AverageDBQueryDurationMs float64   `json:"average_db_query_duration_ms"`
	MigrationsApplied        uint64    `json:"migrations_applied"`
	MigrationFailures        uint64    `json:"migration_failures"`
	QueuePending             int64     `json:"queue_pending"`
	QueueExhausted           int64     `json:"queue_exhausted"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}

// Snapshot reads the running totals.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	requests := m.totals.requests.Load()
	hits, misses := m.totals.cacheHits.Load(), m.totals.cacheMiss.Load()
	queries := m.totals.dbQueries.Load()
	return MetricsSnapshot{
		RequestsTotal:            requests,
		AverageRequestDurationMs: averageMs(m.totals.requestNs.Load(), requests),
		CacheHits:                hits,
		CacheMisses:              misses,
		CacheHitRatio:            ratio(hits, hits+misses),
		DBQueryCount:             queries,
		AverageDBQueryDurationMs: averageMs(m.totals.dbNs.Load(), queries),
		MigrationsApplied:        m.totals.migrated.Load(),
		MigrationFailures:        m.totals.migrateErr.Load(),
		QueuePending:             m.totals.pending.Load(),
		QueueExhausted:           m.totals.exhausted.Load(),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}

func averageMs(totalNs, n uint64) float64 {
	if n == 0 {
		return 0
	}
	return float64(totalNs) / float64(n) / float64(time.Millisecond)
}

func ratio(part, whole uint64) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole)
}
