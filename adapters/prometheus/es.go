package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/esk-go/core/es"
	"github.com/codewandler/esk-go/core/metrics"
)

const aggTypeLabel = "aggregate_type"

// esMetrics implements es.ESMetrics using Prometheus.
type esMetrics struct {
	// Store metrics
	storeLoadDuration   *prometheus.HistogramVec
	storeAppendDuration *prometheus.HistogramVec
	eventsAppended      *prometheus.CounterVec

	// Repository metrics
	repoLoadDuration     *prometheus.HistogramVec
	repoSaveDuration     *prometheus.HistogramVec
	eventsRehydrated     *prometheus.CounterVec
	concurrencyConflicts *prometheus.CounterVec
	duplicateCommits     *prometheus.CounterVec

	// Cache metrics
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
}

// NewESMetrics creates the Prometheus implementation of es.ESMetrics and
// registers its collectors with reg.
func NewESMetrics(reg prometheus.Registerer, opts ...Option) es.ESMetrics {
	o := newOptions(opts...)

	histogram := func(name, help string) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: o.namespace,
			Subsystem: "es",
			Name:      name,
			Help:      help,
			Buckets:   o.buckets,
		}, []string{aggTypeLabel})
	}
	counter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Subsystem: "es",
			Name:      name,
			Help:      help,
		}, []string{aggTypeLabel})
	}

	m := &esMetrics{
		storeLoadDuration:    histogram("store_load_duration_seconds", "Event store load latency in seconds"),
		storeAppendDuration:  histogram("store_append_duration_seconds", "Event store append latency in seconds"),
		eventsAppended:       counter("events_appended_total", "Total number of events appended"),
		repoLoadDuration:     histogram("repo_load_duration_seconds", "Repository load latency in seconds"),
		repoSaveDuration:     histogram("repo_save_duration_seconds", "Repository save latency in seconds"),
		eventsRehydrated:     counter("events_rehydrated_total", "Total number of events replayed into aggregates"),
		concurrencyConflicts: counter("concurrency_conflicts_total", "Total number of optimistic lock failures"),
		duplicateCommits:     counter("duplicate_commits_total", "Total number of retried commits the store already had"),
		cacheHits:            counter("cache_hits_total", "Total number of cache hits"),
		cacheMisses:          counter("cache_misses_total", "Total number of cache misses"),
	}

	reg.MustRegister(
		m.storeLoadDuration,
		m.storeAppendDuration,
		m.eventsAppended,
		m.repoLoadDuration,
		m.repoSaveDuration,
		m.eventsRehydrated,
		m.concurrencyConflicts,
		m.duplicateCommits,
		m.cacheHits,
		m.cacheMisses,
	)

	return m
}

func (m *esMetrics) StoreLoadDuration(aggType string) metrics.Timer {
	return newTimer(m.storeLoadDuration.WithLabelValues(aggType))
}

func (m *esMetrics) StoreAppendDuration(aggType string) metrics.Timer {
	return newTimer(m.storeAppendDuration.WithLabelValues(aggType))
}

func (m *esMetrics) EventsAppended(aggType string, count int) {
	m.eventsAppended.WithLabelValues(aggType).Add(float64(count))
}

func (m *esMetrics) RepoLoadDuration(aggType string) metrics.Timer {
	return newTimer(m.repoLoadDuration.WithLabelValues(aggType))
}

func (m *esMetrics) RepoSaveDuration(aggType string) metrics.Timer {
	return newTimer(m.repoSaveDuration.WithLabelValues(aggType))
}

func (m *esMetrics) EventsRehydrated(aggType string, count int) {
	m.eventsRehydrated.WithLabelValues(aggType).Add(float64(count))
}

func (m *esMetrics) ConcurrencyConflict(aggType string) {
	m.concurrencyConflicts.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) DuplicateCommit(aggType string) {
	m.duplicateCommits.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) CacheHit(aggType string) {
	m.cacheHits.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) CacheMiss(aggType string) {
	m.cacheMisses.WithLabelValues(aggType).Inc()
}

var _ es.ESMetrics = (*esMetrics)(nil)
