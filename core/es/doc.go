// Package es provides the kernel for event-sourced aggregates and the
// persistence boundary built on top of it.
//
// # Aggregates
//
// An aggregate embeds [BaseAggregate] and binds itself in its constructor.
// State only changes through events: a command validates its input, calls
// [BaseAggregate.RaiseEvent] and the router hands the event to the handler
// registered for its exact runtime type.
//
//	type Account struct {
//	    es.BaseAggregate
//	    balance int
//	}
//
//	func NewAccount(id string) (*Account, error) {
//	    a := &Account{}
//	    return a, a.Init(a, id)
//	}
//
//	func (a *Account) Handlers(r es.HandlerRegistrar) error {
//	    return es.On(r, func(e *Deposited) { a.balance += e.Amount })
//	}
//
//	func (a *Account) Deposit(amount int) error {
//	    return a.RaiseEvent(&Deposited{Amount: amount})
//	}
//
// The version counts every applied event. The original version is the
// version at the last load or save; the difference is the number of
// uncommitted events, which [BaseAggregate.TakeUncommittedEvents] drains.
//
// # Routing
//
// The default [ConventionRouter] collects the table an aggregate supplies by
// implementing [HandlerProvider] and accepts explicit registrations through
// [On] and [OnErr] afterwards; the last registration for a type wins. Events
// without a handler are ignored unless [WithStrictRouting] is set, in which
// case [BaseAggregate.HandlerNotFound] reports them.
//
// # Rehydration
//
// History is replayed inside a [Rehydration] session. Replayed events advance
// the version but are never uncommitted, and raising events while the session
// is open fails. [Rehydrate] closes the session on every exit path.
//
// # Persistence
//
// An [EventStore] appends [Commit] batches of [Envelope] values per bucket and
// stream with optimistic concurrency. The generic [Repository] builds
// aggregates through a [Factory], rehydrates them and saves their uncommitted
// events under a caller supplied commit id; a commit id the stream has already
// seen is accepted as a successful retry.
//
//	repo := es.NewRepository(log, store, registry, es.Factory[*Account](NewAccount))
//	err := repo.WithTransaction(ctx, "tenant-1", "acc-1", func(a *Account) error {
//	    return a.Deposit(10)
//	}, es.WithCreate())
//
// Events must be registered with an [EventRegistry] before they can be decoded:
//
//	registry := es.NewEventRegistry()
//	es.RegisterEvents(registry, es.Event[Deposited]())
package es
