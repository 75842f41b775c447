package es

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/codewandler/esk-go/core/cache"
)

// IDGenerator generates commit ids for WithTransaction.
type IDGenerator func() string

// DefaultIDGenerator returns random UUIDs.
func DefaultIDGenerator() IDGenerator { return uuid.NewString }

type (
	repoOpts struct {
		log         *slog.Logger
		cache       cache.Cache
		cacheTTL    time.Duration
		metrics     ESMetrics
		aggType     string
		idGenerator IDGenerator
		idleTimeout time.Duration
	}

	txOpts struct {
		create        bool
		commitID      string
		updateHeaders func(map[string]string)
	}
)

type (
	RepositoryOption      interface{ applyToRepository(*repoOpts) }
	RepoCacheOption       valueOption[cache.Cache]
	AggregateTypeOption   valueOption[string]
	RepoIDGeneratorOption valueOption[IDGenerator]
	RepoIdleTimeoutOption valueOption[time.Duration]
	RepoCacheTTLOption    valueOption[time.Duration]

	TransactionOption interface{ applyToTransaction(*txOpts) }
	RepoCreateOption  valueOption[bool]
	CommitIDOption    valueOption[string]
	HeadersOption     valueOption[func(map[string]string)]
)

// WithRepoCache keeps aggregates between transactions. The cache is consulted
// by WithTransaction only; GetByID always rehydrates a fresh instance.
func WithRepoCache(c cache.Cache) RepoCacheOption { return RepoCacheOption{v: c} }

func WithRepoCacheLRU(size int) RepoCacheOption {
	return WithRepoCache(cache.NewLRU(cache.LRUOpts{Size: size}))
}

// WithRepoCacheTTL expires cached aggregates after d.
func WithRepoCacheTTL(d time.Duration) RepoCacheTTLOption { return RepoCacheTTLOption{v: d} }

// WithAggregateType overrides the aggregate type recorded in envelopes and
// metric labels. It defaults to the short type name of the aggregate.
func WithAggregateType(name string) AggregateTypeOption { return AggregateTypeOption{v: name} }

// WithIDGenerator sets the generator of transaction commit ids.
func WithIDGenerator(gen IDGenerator) RepoIDGeneratorOption { return RepoIDGeneratorOption{v: gen} }

// WithRepoIdleTimeout sets how long the per-aggregate transaction worker
// stays around without work.
func WithRepoIdleTimeout(d time.Duration) RepoIdleTimeoutOption { return RepoIdleTimeoutOption{v: d} }

// WithCreate makes WithTransaction start a new aggregate when none is stored.
func WithCreate() RepoCreateOption { return RepoCreateOption{v: true} }

// WithCommitID pins the commit id of a transaction, making retries idempotent.
func WithCommitID(id string) CommitIDOption { return CommitIDOption{v: id} }

// WithHeaders lets the caller adjust the commit headers of a transaction.
func WithHeaders(fn func(map[string]string)) HeadersOption { return HeadersOption{v: fn} }

func (o LogOption) applyToRepository(opts *repoOpts)             { opts.log = o.v }
func (o RepoCacheOption) applyToRepository(opts *repoOpts)       { opts.cache = o.v }
func (o AggregateTypeOption) applyToRepository(opts *repoOpts)   { opts.aggType = o.v }
func (o RepoIDGeneratorOption) applyToRepository(opts *repoOpts) { opts.idGenerator = o.v }
func (o RepoIdleTimeoutOption) applyToRepository(opts *repoOpts) { opts.idleTimeout = o.v }
func (o RepoCacheTTLOption) applyToRepository(opts *repoOpts)    { opts.cacheTTL = o.v }

func (o RepoCreateOption) applyToTransaction(opts *txOpts) { opts.create = o.v }
func (o CommitIDOption) applyToTransaction(opts *txOpts)   { opts.commitID = o.v }
func (o HeadersOption) applyToTransaction(opts *txOpts)    { opts.updateHeaders = o.v }

func newRepoOpts(opts ...RepositoryOption) repoOpts {
	options := repoOpts{
		cache:       cache.NewNop(),
		metrics:     NopESMetrics(),
		idGenerator: DefaultIDGenerator(),
		idleTimeout: time.Minute,
	}
	for _, opt := range opts {
		opt.applyToRepository(&options)
	}
	if options.cache == nil {
		options.cache = cache.NewNop()
	}
	if options.metrics == nil {
		options.metrics = NopESMetrics()
	}
	if options.idGenerator == nil {
		options.idGenerator = DefaultIDGenerator()
	}
	return options
}

func newTxOpts(opts ...TransactionOption) txOpts {
	options := txOpts{}
	for _, opt := range opts {
		opt.applyToTransaction(&options)
	}
	return options
}
