package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the sync service.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	refreshesTotal   *prometheus.CounterVec
	refreshDuration  *prometheus.HistogramVec
	coalescedTotal   *prometheus.CounterVec
	debouncedTotal   *prometheus.CounterVec
	staleDropsTotal  *prometheus.CounterVec
	publishesTotal   *prometheus.CounterVec
	externalErrors   *prometheus.CounterVec
	cacheHits        *prometheus.CounterVec
	cacheMisses      *prometheus.CounterVec
	pushEventsTotal  *prometheus.CounterVec
	pushReconnects   prometheus.Counter
	noticesTotal     *prometheus.CounterVec
	noticesDropped   prometheus.Counter
	lastPublishedSeq *prometheus.GaugeVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		refreshesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pds_refreshes_total",
				Help: "Refresh requests accepted, by resource and trigger reason.",
			},
			[]string{"resource", "reason"},
		),
		refreshDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pds_refresh_duration_seconds",
				Help:    "Duration of refresh fetches by resource.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"resource"},
		),
		coalescedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pds_refreshes_coalesced_total",
				Help: "Requests that joined an already in-flight fetch.",
			},
			[]string{"resource"},
		),
		debouncedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pds_refreshes_debounced_total",
				Help: "Requests collapsed by the minimum-interval guard.",
			},
			[]string{"resource"},
		),
		staleDropsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pds_stale_results_dropped_total",
				Help: "Fetch results discarded because a newer one was already applied.",
			},
			[]string{"resource"},
		),
		publishesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pds_snapshot_publishes_total",
				Help: "Snapshot publishes applied to the stores.",
			},
			[]string{"resource"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pds_external_errors_total",
				Help: "Total errors from upstream services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pds_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pds_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		pushEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pds_push_events_total",
				Help: "Push events received, by type and disposition.",
			},
			[]string{"type", "disposition"},
		),
		pushReconnects: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "pds_push_reconnects_total",
				Help: "Push channel reconnect attempts.",
			},
		),
		noticesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pds_notices_total",
				Help: "User-facing notices emitted, by level.",
			},
			[]string{"level"},
		),
		noticesDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "pds_notices_dropped_total",
				Help: "Notices dropped because the queue was full.",
			},
		),
		lastPublishedSeq: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pds_last_published_seq",
				Help: "Ordering token of the last published snapshot per resource.",
			},
			[]string{"resource"},
		),
	}
}

// IncrRefresh counts an accepted refresh request.
func (m *Metrics) IncrRefresh(resource, reason string) {
	m.refreshesTotal.WithLabelValues(resource, reason).Inc()
}

// RecordRefreshDuration records how long one fetch took.
func (m *Metrics) RecordRefreshDuration(resource string, d time.Duration) {
	m.refreshDuration.WithLabelValues(resource).Observe(d.Seconds())
}

// IncrCoalesced counts a request that joined an in-flight fetch.
func (m *Metrics) IncrCoalesced(resource string) {
	m.coalescedTotal.WithLabelValues(resource).Inc()
}

// IncrDebounced counts a request collapsed by the debounce window.
func (m *Metrics) IncrDebounced(resource string) {
	m.debouncedTotal.WithLabelValues(resource).Inc()
}

// IncrStaleDrop counts a result rejected for being stale.
func (m *Metrics) IncrStaleDrop(resource string) {
	m.staleDropsTotal.WithLabelValues(resource).Inc()
}

// IncrPublish counts an applied snapshot publish and records its token.
func (m *Metrics) IncrPublish(resource string, seq uint64) {
	m.publishesTotal.WithLabelValues(resource).Inc()
	m.lastPublishedSeq.WithLabelValues(resource).Set(float64(seq))
}

// IncrExternalError increments the upstream error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrPushEvent counts an inbound push event. Disposition is one of
// "applied", "filtered" (wrong organization) or "ignored".
func (m *Metrics) IncrPushEvent(eventType, disposition string) {
	m.pushEventsTotal.WithLabelValues(eventType, disposition).Inc()
}

// IncrPushReconnect counts a push channel reconnect attempt.
func (m *Metrics) IncrPushReconnect() {
	m.pushReconnects.Inc()
}

// IncrNotice counts an emitted notice.
func (m *Metrics) IncrNotice(level string) {
	m.noticesTotal.WithLabelValues(level).Inc()
}

// IncrNoticeDropped counts a notice lost to queue overflow.
func (m *Metrics) IncrNoticeDropped() {
	m.noticesDropped.Inc()
}

// StaleDropCount returns the current stale-drop counter value for a
// resource. Used by diagnostics endpoints and tests.
func (m *Metrics) StaleDropCount(resource string) float64 {
	return getCounterValue(m.staleDropsTotal, resource)
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
