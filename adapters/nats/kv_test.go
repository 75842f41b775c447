package nats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/esk-go/core/es"
	"github.com/codewandler/esk-go/ports/kv"
)

func TestKV(t *testing.T) {
	type fooBar struct {
		Fruit string
		Count int
	}
	connectNats := NewTestContainer(t)
	store, err := NewKvStore(KvConfig{
		Bucket:  "fruits",
		Connect: connectNats,
	})
	require.NoError(t, err)
	t.Cleanup(store.Close)

	ctx := t.Context()

	t.Run("put and get", func(t *testing.T) {
		require.NoError(t, kv.Put(ctx, store, "apple", fooBar{Fruit: "apple", Count: 10}, kv.PutOptions{}))

		v, err := kv.Get[fooBar](ctx, store, "apple")
		require.NoError(t, err)
		require.Equal(t, fooBar{Fruit: "apple", Count: 10}, v)
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := store.Get(ctx, "pear")
		require.ErrorIs(t, err, kv.ErrNotFound)

		ok, err := kv.Exists(ctx, store, "pear")
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, kv.Put(ctx, store, "plum", fooBar{Fruit: "plum"}, kv.PutOptions{}))
		require.NoError(t, store.Delete(ctx, "plum"))
		require.NoError(t, store.Delete(ctx, "plum"))

		_, err := store.Get(ctx, "plum")
		require.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("ttl", func(t *testing.T) {
		now := time.Now()
		store.now = func() time.Time { return now }
		t.Cleanup(func() { store.now = time.Now })

		require.NoError(t, kv.Put(ctx, store, "kiwi", fooBar{Fruit: "kiwi"}, kv.PutOptions{TTL: time.Minute}))
		_, err := store.Get(ctx, "kiwi")
		require.NoError(t, err)

		now = now.Add(2 * time.Minute)
		_, err = store.Get(ctx, "kiwi")
		require.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("keys with paths", func(t *testing.T) {
		require.NoError(t, kv.Put(ctx, store, "tenant-1/acc 1/c@1", fooBar{Count: 1}, kv.PutOptions{}))
		v, err := kv.Get[fooBar](ctx, store, "tenant-1/acc 1/c@1")
		require.NoError(t, err)
		require.Equal(t, 1, v.Count)
	})

	t.Run("commit ledger", func(t *testing.T) {
		ledger := es.NewCommitLedger(store, 0)
		require.NoError(t, ledger.Check(ctx, "b", "s", "c1"))
		require.NoError(t, ledger.Record(ctx, "b", "s", es.CommitRecord{CommitID: "c1", Version: 2}))
		require.ErrorIs(t, ledger.Check(ctx, "b", "s", "c1"), es.ErrDuplicateCommit)
		require.NoError(t, ledger.Check(ctx, "b", "other", "c1"))
	})
}

func TestKvKey(t *testing.T) {
	require.Equal(t, "a.b-c_d", kvKey("a/b-c_d"))
	require.Equal(t, "a=20=b", kvKey("a b"))
	require.Equal(t, "x=3d=y", kvKey("x=y"))
	require.NotEqual(t, kvKey("a.b"), kvKey("a/b"))
}
