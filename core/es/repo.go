package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codewandler/esk-go/core/cache"
	"github.com/codewandler/esk-go/core/perkey"
	"github.com/codewandler/esk-go/core/reflector"
	"github.com/codewandler/esk-go/core/sf"
)

// Repository rehydrates aggregates of type T from an EventStore and persists
// their uncommitted events with optimistic concurrency.
//
// Failed saves drain the aggregate anyway: after any Save error other than a
// duplicate commit, discard the instance and load it again.
type Repository[T Aggregate] struct {
	log         *slog.Logger
	store       EventStore
	registry    *EventRegistry
	factory     Factory[T]
	aggType     string
	cache       cache.TypedCache[T]
	cacheTTL    time.Duration
	metrics     ESMetrics
	newCommitID IDGenerator
	sched       *perkey.Scheduler[string]
	loads       *sf.Singleflight[[]Envelope]
}

func NewRepository[T Aggregate](
	log *slog.Logger,
	store EventStore,
	registry *EventRegistry,
	factory Factory[T],
	opts ...RepositoryOption,
) *Repository[T] {
	options := newRepoOpts(append([]RepositoryOption{WithLog(log)}, opts...)...)
	aggType := options.aggType
	if aggType == "" {
		aggType = reflector.TypeInfoFor[T]().ShortName
	}

	return &Repository[T]{
		log:         logOrDefault(options.log).With(slog.String("repo", aggType)),
		store:       store,
		registry:    registry,
		factory:     factory,
		aggType:     aggType,
		cache:       cache.NewTyped[T](options.cache),
		cacheTTL:    options.cacheTTL,
		metrics:     options.metrics,
		newCommitID: options.idGenerator,
		sched:       perkey.New[string](perkey.WithIdleTimeout(options.idleTimeout)),
		loads:       sf.New[[]Envelope](),
	}
}

// AggregateType returns the type name recorded for aggregates of this repository.
func (r *Repository[T]) AggregateType() string { return r.aggType }

// GetByID constructs a new aggregate and replays its stream up to version.
// Version 0 loads the latest state; a version past the head loads the head.
// A stream without events fails with ErrAggregateNotFound.
func (r *Repository[T]) GetByID(ctx context.Context, bucket, id string, version Version) (T, error) {
	var zero T
	bucket = normalizeBucket(bucket)
	if err := ValidateStream(bucket, id); err != nil {
		return zero, err
	}

	timer := r.metrics.RepoLoadDuration(r.aggType)
	defer timer.ObserveDuration()

	agg, err := r.factory.New(id)
	if err != nil {
		return zero, err
	}
	if err := r.load(ctx, bucket, agg, version); err != nil {
		return zero, err
	}
	return agg, nil
}

// load replays the events following the current version of agg.
func (r *Repository[T]) load(ctx context.Context, bucket string, agg T, maxVersion Version) error {
	var (
		id    = agg.GetID()
		sk    = StreamKey(bucket, id)
		start = agg.GetVersion() + 1
		log   = r.log.With(r.aggAttrs(bucket, id))
	)

	log.Debug("load", start.SlogAttrWithKey("start_version"), maxVersion.SlogAttrWithKey("max_version"))

	envs, shared, err := r.loads.Do(fmt.Sprintf("%s@%d:%d", sk, start, maxVersion), func() ([]Envelope, error) {
		timer := r.metrics.StoreLoadDuration(r.aggType)
		defer timer.ObserveDuration()
		return r.store.Load(ctx, bucket, id, WithStartAtVersion(start), WithMaxVersion(maxVersion))
	})
	if errors.Is(err, ErrStreamNotFound) && start == 1 {
		return fmt.Errorf("%w: %s", ErrAggregateNotFound, sk)
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", sk, err)
	}

	err = Rehydrate(agg, func(s *Rehydration) error {
		for _, e := range envs {
			if want := s.Version() + 1; e.Version != want {
				return fmt.Errorf("%w: %s expected version %d, got %d", ErrInvalidState, sk, want, e.Version)
			}
			ev, err := r.registry.Decode(e)
			if err != nil {
				return err
			}
			if err := s.ApplyEvent(ev); err != nil {
				return fmt.Errorf("apply %s at version %d: %w", e.Type, e.Version, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if agg.GetVersion() == 0 {
		return fmt.Errorf("%w: %s", ErrAggregateNotFound, sk)
	}

	r.metrics.EventsRehydrated(r.aggType, len(envs))
	log.Debug("loaded", agg.GetVersion().SlogAttr(), slog.Int("num_events", len(envs)), slog.Bool("shared", shared))
	return nil
}

// Save appends the uncommitted events of agg as one commit. The expected
// stream head is the aggregate's original version. A commit id the stream has
// already seen is treated as success, so a save can be retried with the same
// commit id. updateHeaders may adjust the commit headers and can be nil.
func (r *Repository[T]) Save(
	ctx context.Context,
	agg T,
	bucket string,
	commitID string,
	updateHeaders func(headers map[string]string),
) error {
	if isNil(agg) {
		return fmt.Errorf("%w: nil aggregate", ErrInvalidArgument)
	}
	if commitID == "" {
		return fmt.Errorf("%w: commit id is empty", ErrInvalidArgument)
	}
	bucket = normalizeBucket(bucket)
	if err := ValidateStream(bucket, agg.GetID()); err != nil {
		return err
	}

	var (
		id       = agg.GetID()
		sk       = StreamKey(bucket, id)
		expected = agg.GetOriginalVersion()
		aggType  = r.typeOf(agg)
		log      = r.log.With(r.aggAttrs(bucket, id), slog.String("commit", commitID))
	)

	events := agg.Uncommitted()
	if len(events) == 0 {
		return nil
	}

	timer := r.metrics.RepoSaveDuration(r.aggType)
	defer timer.ObserveDuration()

	headers := map[string]string{
		HeaderAggregateType: aggType,
		HeaderCommitID:      commitID,
	}
	if updateHeaders != nil {
		updateHeaders(headers)
	}

	// encoding failures leave the aggregate untouched, store failures drain it
	commit, err := NewCommit(r.registry, bucket, id, aggType, expected, commitID, headers, events...)
	if err != nil {
		return fmt.Errorf("save %s: %w", sk, err)
	}
	agg.TakeUncommittedEvents()

	appendTimer := r.metrics.StoreAppendDuration(r.aggType)
	res, err := r.store.Append(ctx, bucket, id, expected, commit)
	appendTimer.ObserveDuration()

	switch {
	case errors.Is(err, ErrDuplicateCommit):
		r.metrics.DuplicateCommit(r.aggType)
		log.Debug("commit already stored")
		return nil
	case errors.Is(err, ErrConcurrencyConflict):
		r.metrics.ConcurrencyConflict(r.aggType)
		return fmt.Errorf("save %s: %w", sk, err)
	case err != nil:
		return fmt.Errorf("save %s: %w", sk, err)
	case res == nil:
		return fmt.Errorf("save %s: append returned no result", sk)
	}

	r.metrics.EventsAppended(r.aggType, len(events))
	log.Debug(
		"saved",
		res.Version.SlogAttr(),
		slog.Uint64("last_seq", res.LastSeq),
		slog.Int("num_events", len(events)),
	)
	return nil
}

// WithTransaction loads the aggregate, runs fn and saves the result under a
// new commit id. Transactions on the same aggregate run one after another.
// With WithCreate a missing aggregate is constructed instead of failing with
// ErrAggregateNotFound.
func (r *Repository[T]) WithTransaction(
	ctx context.Context,
	bucket string,
	id string,
	fn func(agg T) error,
	opts ...TransactionOption,
) error {
	if fn == nil {
		return fmt.Errorf("%w: nil transaction", ErrInvalidArgument)
	}
	bucket = normalizeBucket(bucket)
	if err := ValidateStream(bucket, id); err != nil {
		return err
	}
	options := newTxOpts(opts...)
	sk := StreamKey(bucket, id)

	return r.sched.DoContext(ctx, sk, func() error {
		agg, err := r.loadForTransaction(ctx, bucket, id, options.create)
		if err != nil {
			return err
		}

		if err := fn(agg); err != nil {
			r.cache.Delete(sk)
			return err
		}

		commitID := options.commitID
		if commitID == "" {
			commitID = r.newCommitID()
		}
		if err := r.Save(ctx, agg, bucket, commitID, options.updateHeaders); err != nil {
			r.cache.Delete(sk)
			return err
		}

		if agg.GetVersion() > 0 {
			r.cache.Put(sk, agg, cache.WithTTL(r.cacheTTL))
		}
		return nil
	})
}

func (r *Repository[T]) loadForTransaction(ctx context.Context, bucket, id string, create bool) (T, error) {
	sk := StreamKey(bucket, id)
	if agg, ok := r.cache.Get(sk); ok {
		r.metrics.CacheHit(r.aggType)
		// catch up with commits made by other writers
		err := r.load(ctx, bucket, agg, 0)
		if err == nil {
			return agg, nil
		}
		r.log.Debug("dropping cached aggregate", r.aggAttrs(bucket, id), slog.Any("error", err))
		r.cache.Delete(sk)
	} else {
		r.metrics.CacheMiss(r.aggType)
	}

	agg, err := r.GetByID(ctx, bucket, id, 0)
	if err == nil {
		return agg, nil
	}
	if create && errors.Is(err, ErrAggregateNotFound) {
		r.log.Debug("create", r.aggAttrs(bucket, id))
		return r.factory.New(id)
	}
	return agg, err
}

// Close stops the transaction workers. Transactions already queued still run.
func (r *Repository[T]) Close() { r.sched.Close() }

func (r *Repository[T]) typeOf(agg T) string {
	if t, ok := any(agg).(AggregateTyper); ok {
		if name := t.GetAggType(); name != "" {
			return name
		}
	}
	return r.aggType
}

func (r *Repository[T]) aggAttrs(bucket, id string) slog.Attr {
	return slog.Group(
		"agg",
		slog.String("type", r.aggType),
		slog.String("bucket", bucket),
		slog.String("id", id),
	)
}
