package estests

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/esk-go/adapters/bolt"
	"github.com/codewandler/esk-go/adapters/nats"
	"github.com/codewandler/esk-go/core/es"
	"github.com/codewandler/esk-go/core/es/estests/domain"
)

type testCase struct {
	name  string
	store func(t *testing.T) es.EventStore
}

func getStoreSUTs(t *testing.T) []testCase {
	suts := []testCase{
		{
			name:  "1. memory",
			store: func(*testing.T) es.EventStore { return es.NewInMemoryStore() },
		},
		{
			name: "2. bolt",
			store: func(t *testing.T) es.EventStore {
				s, err := bolt.Open(bolt.Config{Path: filepath.Join(t.TempDir(), "esk.db")})
				require.NoError(t, err)
				t.Cleanup(func() { _ = s.Close() })
				return s
			},
		},
	}
	if testing.Short() {
		return suts
	}

	connectNatsC := nats.ReuseConnection(nats.NewTestContainer(t))
	return append(suts, testCase{
		name: "3. nats",
		store: func(t *testing.T) es.EventStore {
			// every test gets its own stream and ledger
			name := gonanoid.MustGenerate("abcdefghijklmnopqrstuvwxyz", 10)
			s, err := nats.NewEventStore(nats.EventStoreConfig{
				Log:           slog.Default(),
				Connect:       connectNatsC,
				StreamName:    "es_" + name,
				SubjectPrefix: "esk." + name,
				LedgerBucket:  "commits_" + name,
				MemoryStorage: true,
			})
			require.NoError(t, err)
			require.NotNil(t, s)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	})
}

type env struct {
	store    es.EventStore
	registry *es.EventRegistry
	repo     *es.Repository[*domain.TestAgg]
}

type TestFunc func(t *testing.T, te env)

func eachStore(testFunc TestFunc) func(t *testing.T) {
	return func(t *testing.T) {
		for _, sut := range getStoreSUTs(t) {
			t.Run(sut.name, func(t *testing.T) {
				store := sut.store(t)
				registry := es.NewEventRegistry()
				domain.RegisterEvents(registry)
				repo := es.NewRepository(slog.Default(), store, registry, domain.Factory, es.WithRepoCacheLRU(16))
				t.Cleanup(repo.Close)
				testFunc(t, env{store: store, registry: registry, repo: repo})
			})
		}
	}
}

func TestEventStore_All(t *testing.T) {
	slog.SetLogLoggerLevel(slog.LevelDebug)

	t.Run("start sequence", eachStore(func(t *testing.T, te env) {
		ar, err := es.AppendEvents(
			t.Context(),
			te.store,
			te.registry,
			"bucket",
			"aggID",
			0,
			gonanoid.Must(),
			&domain.Incremented{Inc: 1},
			&domain.Incremented{Inc: 2},
		)
		require.NoError(t, err)
		require.Equal(t, uint64(2), ar.LastSeq)
		require.Equal(t, es.Version(2), ar.Version)
	}))

	t.Run("buckets do not overlap", eachStore(func(t *testing.T, te env) {
		for _, tc := range []struct{ bucket, id string }{
			{"tenant/b", "c"},
			{"tenant", "b/c"},
		} {
			_, err := es.AppendEvents(
				t.Context(), te.store, te.registry, tc.bucket, tc.id, 0, gonanoid.Must(),
				&domain.Incremented{Inc: 1},
			)
			require.ErrorIs(t, err, es.ErrInvalidArgument)

			_, err = te.store.Load(t.Context(), tc.bucket, tc.id)
			require.ErrorIs(t, err, es.ErrInvalidArgument)
		}

		a, err := domain.NewTestAgg("c")
		require.NoError(t, err)
		require.NoError(t, a.Inc())
		require.NoError(t, te.repo.Save(t.Context(), a, "tenant", gonanoid.Must(), nil))

		_, err = te.repo.GetByID(t.Context(), "tenant-b", "c", 0)
		require.ErrorIs(t, err, es.ErrAggregateNotFound)
		_, err = te.repo.GetByID(t.Context(), "tenant", "b/c", 0)
		require.ErrorIs(t, err, es.ErrInvalidArgument)
	}))

	t.Run("create, mutate, load", eachStore(func(t *testing.T, te env) {
		a, err := domain.NewTestAgg("1000")
		require.NoError(t, err)
		require.Equal(t, "1000", a.GetID())
		require.Equal(t, 0, a.Count())

		t.Run("mutate", func(t *testing.T) {
			require.NoError(t, a.Inc())
			require.Equal(t, 1, a.Count())
			require.NoError(t, te.repo.Save(t.Context(), a, "", gonanoid.Must(), nil))
			require.Equal(t, es.Version(1), a.GetOriginalVersion())
		})

		t.Run("load", func(t *testing.T) {
			loaded, err := te.repo.GetByID(t.Context(), "", "1000", 0)
			require.NoError(t, err)
			require.Equal(t, 1, loaded.Count())
			require.Equal(t, "1000", loaded.GetID())
			require.Equal(t, es.Version(1), loaded.GetVersion())
			require.True(t, loaded.Equal(a))
		})

		t.Run("inspect events", func(t *testing.T) {
			allEvents, err := te.store.Load(t.Context(), "", a.GetID())
			require.NoError(t, err)
			require.Len(t, allEvents, 1)

			first := allEvents[0]
			require.NotEmpty(t, first.Seq)
			require.Equal(t, es.Version(1), first.Version)
			require.Equal(t, "test_agg", first.AggregateType)
			require.Equal(t, "test_agg", first.Headers[es.HeaderAggregateType])
		})
	}))

	t.Run("unknown stream", eachStore(func(t *testing.T, te env) {
		_, err := te.store.Load(t.Context(), "bucket", "nope")
		require.ErrorIs(t, err, es.ErrStreamNotFound)

		_, err = te.repo.GetByID(t.Context(), "bucket", "nope", 0)
		require.ErrorIs(t, err, es.ErrAggregateNotFound)
	}))

	t.Run("load range", eachStore(func(t *testing.T, te env) {
		for i := range 5 {
			_, err := es.AppendEvents(
				t.Context(), te.store, te.registry, "b", "range", es.Version(i), gonanoid.Must(),
				&domain.Incremented{Inc: uint8(i + 1)},
			)
			require.NoError(t, err)
		}

		got, err := te.store.Load(t.Context(), "b", "range", es.WithStartAtVersion(2), es.WithMaxVersion(4))
		require.NoError(t, err)
		require.Len(t, got, 3)
		for i, e := range got {
			require.Equal(t, es.Version(i+2), e.Version)
		}

		a, err := te.repo.GetByID(t.Context(), "b", "range", 3)
		require.NoError(t, err)
		require.Equal(t, 6, a.Count())
		require.Equal(t, es.Version(3), a.GetVersion())
	}))

	t.Run("concurrency conflict", eachStore(func(t *testing.T, te env) {
		first, err := domain.NewTestAgg("c")
		require.NoError(t, err)
		require.NoError(t, first.Inc())
		require.NoError(t, te.repo.Save(t.Context(), first, "b", gonanoid.Must(), nil))

		a1, err := te.repo.GetByID(t.Context(), "b", "c", 0)
		require.NoError(t, err)
		a2, err := te.repo.GetByID(t.Context(), "b", "c", 0)
		require.NoError(t, err)

		require.NoError(t, a1.Inc())
		require.NoError(t, te.repo.Save(t.Context(), a1, "b", gonanoid.Must(), nil))

		require.NoError(t, a2.IncBy(2))
		err = te.repo.Save(t.Context(), a2, "b", gonanoid.Must(), nil)
		require.ErrorIs(t, err, es.ErrConcurrencyConflict)

		reloaded, err := te.repo.GetByID(t.Context(), "b", "c", 0)
		require.NoError(t, err)
		require.Equal(t, 2, reloaded.Count())
	}))

	t.Run("duplicate commit", eachStore(func(t *testing.T, te env) {
		commitID := gonanoid.Must()
		_, err := es.AppendEvents(t.Context(), te.store, te.registry, "b", "d", 0, commitID, &domain.Incremented{Inc: 1})
		require.NoError(t, err)

		_, err = es.AppendEvents(t.Context(), te.store, te.registry, "b", "d", 0, commitID, &domain.Incremented{Inc: 1})
		require.ErrorIs(t, err, es.ErrDuplicateCommit)

		// the repository treats a retried commit as saved
		a, err := domain.NewTestAgg("d")
		require.NoError(t, err)
		require.NoError(t, a.Inc())
		require.NoError(t, te.repo.Save(t.Context(), a, "b", commitID, nil))

		all, err := te.store.Load(t.Context(), "b", "d")
		require.NoError(t, err)
		require.Len(t, all, 1)
	}))

	t.Run("transactions", eachStore(func(t *testing.T, te env) {
		for range 10 {
			require.NoError(t, te.repo.WithTransaction(t.Context(), "tx", "agg", func(a *domain.TestAgg) error {
				return a.IncBy(2)
			}, es.WithCreate()))
		}

		err := te.repo.WithTransaction(t.Context(), "tx", "agg", func(a *domain.TestAgg) error {
			return a.IncBy(5)
		})
		require.ErrorIs(t, err, domain.ErrLimitExceeded)

		a, err := te.repo.GetByID(t.Context(), "tx", "agg", 0)
		require.NoError(t, err)
		require.Equal(t, 20, a.Count())
		require.Equal(t, es.Version(10), a.GetVersion())
	}))

	t.Run("loadtest", eachStore(func(t *testing.T, te env) {
		var (
			N     = 2_000
			aggID = "lt-" + gonanoid.Must()
		)

		a1, err := domain.NewTestAgg(aggID)
		require.NoError(t, err)
		numMutations := 0

		for i := range N {
			require.NoError(t, a1.Inc())
			numMutations++
			require.Equal(t, i+1, a1.NumIncrements)

			// reset at 20
			if a1.Counter == 20 {
				require.NoError(t, a1.Reset())
				numMutations++
			}

			if i%100 == 0 {
				require.NoError(t, te.repo.Save(t.Context(), a1, "lt", gonanoid.Must(), nil))
				require.Equal(t, es.Version(numMutations), a1.GetOriginalVersion())
			}
		}

		require.NoError(t, te.repo.Save(t.Context(), a1, "lt", gonanoid.Must(), nil))
		require.Equal(t, es.Version(numMutations), a1.GetVersion())

		loadAt := time.Now()
		a2, err := te.repo.GetByID(t.Context(), "lt", aggID, 0)
		require.NoError(t, err)
		t.Logf("load took: %s", time.Since(loadAt))

		require.Equal(t, N, a2.NumIncrements)
		require.Equal(t, a1.NumResets, a2.NumResets)
		require.Equal(t, a1.Count(), a2.Count())
		require.Equal(t, a1.GetVersion(), a2.GetVersion())
	}))
}
