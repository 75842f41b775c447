package prometheus

import (
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/esk-go/core/es"
)

func TestNewESMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewESMetrics(reg)

	require.NotNil(t, m)

	// Test store operations
	timer := m.StoreLoadDuration("user")
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	timer = m.StoreAppendDuration("user")
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	m.EventsAppended("user", 5)

	// Test repository operations
	timer = m.RepoLoadDuration("user")
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	timer = m.RepoSaveDuration("user")
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	m.EventsRehydrated("user", 3)
	m.ConcurrencyConflict("user")
	m.DuplicateCommit("user")

	// Test cache
	m.CacheHit("user")
	m.CacheMiss("user")

	// Verify metrics were registered
	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)

	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}

	assert.True(t, names["esk_es_store_load_duration_seconds"])
	assert.True(t, names["esk_es_repo_load_duration_seconds"])
	assert.True(t, names["esk_es_cache_hits_total"])
	assert.True(t, names["esk_es_duplicate_commits_total"])

	impl := m.(*esMetrics)
	assert.Equal(t, float64(5), testutil.ToFloat64(impl.eventsAppended.WithLabelValues("user")))
	assert.Equal(t, float64(3), testutil.ToFloat64(impl.eventsRehydrated.WithLabelValues("user")))
}

func TestNewESMetrics_Namespace(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewESMetrics(reg, WithNamespace("bank"), WithBuckets(.1, 1))
	m.CacheMiss("account")

	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, mfs, 1)
	assert.Equal(t, "bank_es_cache_misses_total", mfs[0].GetName())
}

type counted struct {
	es.BaseAggregate
	n int
}

type bumped struct{}

func (c *counted) Handlers(r es.HandlerRegistrar) error {
	return es.On(r, func(*bumped) { c.n++ })
}

func TestESMetrics_Repository(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewESMetrics(reg)

	registry := es.NewEventRegistry()
	es.RegisterEvents(registry, es.Event[bumped]())

	repo := es.NewRepository(
		slog.Default(),
		es.NewInMemoryStore(),
		registry,
		es.Factory[*counted](func(id string) (*counted, error) {
			c := &counted{}
			return c, c.Init(c, id)
		}),
		es.WithMetrics(m),
		es.WithAggregateType("counted"),
	)
	defer repo.Close()

	for range 3 {
		require.NoError(t, repo.WithTransaction(t.Context(), "", "c-1", func(c *counted) error {
			return c.RaiseEvent(&bumped{})
		}, es.WithCreate()))
	}

	impl := m.(*esMetrics)
	assert.Equal(t, float64(3), testutil.ToFloat64(impl.eventsAppended.WithLabelValues("counted")))
	assert.Equal(t, float64(3), testutil.ToFloat64(impl.cacheMisses.WithLabelValues("counted")), "no cache configured")
	assert.Equal(t, 1, testutil.CollectAndCount(impl.repoSaveDuration))
}
