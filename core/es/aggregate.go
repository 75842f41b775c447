package es

import (
	"fmt"
	"hash/fnv"

	"github.com/codewandler/esk-go/core/es/assert"
)

// Identifier is anything with a stable aggregate identity.
type Identifier interface {
	GetID() string
}

// Aggregate is the contract between the kernel and the persistence boundary.
// Concrete aggregates satisfy it by embedding BaseAggregate.
//
// The lifecycle is:
//  1. Construct with an id (BaseAggregate.Init) or let a Repository do it via a Factory
//  2. Replay history through a Rehydration session
//  3. Run business operations that call RaiseEvent
//  4. Persist the drained TakeUncommittedEvents
type Aggregate interface {
	Identifier
	HandlerOwner

	// GetVersion returns the number of events applied, committed and uncommitted.
	GetVersion() Version
	// GetOriginalVersion returns the version at the last load or save.
	GetOriginalVersion() Version

	BeginRehydrate() (*Rehydration, error)
	Uncommitted() []any
	TakeUncommittedEvents() []any
}

// AggregateTyper is optionally implemented by aggregates to name their type in
// persisted envelopes.
type AggregateTyper interface {
	GetAggType() string
}

type (
	aggregateOpts struct {
		routerFactory RouterFactory
		routerOpts    []RouterOption
	}
	AggregateOption     interface{ applyToAggregate(*aggregateOpts) }
	RouterFactoryOption valueOption[RouterFactory]
)

// WithRouter replaces the default ConventionRouter.
func WithRouter(f RouterFactory) RouterFactoryOption { return RouterFactoryOption{v: f} }

func (o RouterFactoryOption) applyToAggregate(opts *aggregateOpts) { opts.routerFactory = o.v }
func (o StrictRoutingOption) applyToAggregate(opts *aggregateOpts) {
	opts.routerOpts = append(opts.routerOpts, o)
}

// BaseAggregate is the embeddable kernel every aggregate is built on. It tracks
// identity, version and uncommitted events and delegates state mutation to the
// router bound in Init.
//
//	type Account struct {
//	    es.BaseAggregate
//	    balance int
//	}
//
//	func NewAccount(id string) (*Account, error) {
//	    a := &Account{}
//	    if err := a.Init(a, id); err != nil {
//	        return nil, err
//	    }
//	    return a, nil
//	}
//
// BaseAggregate is not safe for concurrent use.
type BaseAggregate struct {
	id              string
	version         Version
	originalVersion Version
	uncommitted     []any
	router          EventRouter
	rehydrating     bool
}

// Init sets the identity and binds the router. self is the outer aggregate;
// the default router collects its handler table when self implements
// HandlerProvider. A failed Init leaves the aggregate unusable.
func (b *BaseAggregate) Init(self HandlerOwner, id string, opts ...AggregateOption) error {
	if b.router != nil {
		return fmt.Errorf("%w: aggregate %q already initialized", ErrInvalidState, b.id)
	}
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidArgument)
	}
	if isNil(self) {
		self = b
	}

	options := aggregateOpts{}
	for _, opt := range opts {
		opt.applyToAggregate(&options)
	}
	factory := options.routerFactory
	switch {
	case factory == nil:
		factory = ConventionRouterFactory(options.routerOpts...)
	case len(options.routerOpts) > 0:
		return fmt.Errorf("%w: router options only apply to the default router", ErrInvalidConfiguration)
	}

	b.id = id
	router, err := factory(self)
	if err == nil && isNil(router) {
		err = fmt.Errorf("%w: router factory returned no router", ErrInvalidConfiguration)
	}
	if err != nil {
		b.id = ""
		return err
	}
	b.router = router
	return nil
}

func (b *BaseAggregate) GetID() string               { return b.id }
func (b *BaseAggregate) GetVersion() Version         { return b.version }
func (b *BaseAggregate) GetOriginalVersion() Version { return b.originalVersion }
func (b *BaseAggregate) IsRehydrating() bool         { return b.rehydrating }
func (b *BaseAggregate) Router() EventRouter         { return b.router }
func (b *BaseAggregate) HasUncommitted() bool        { return len(b.uncommitted) > 0 }

// RaiseEvent applies event to the aggregate and records it as uncommitted.
// A nil event is a no-op. If the handler fails, the error is returned
// unchanged and neither the version nor the uncommitted events change.
func (b *BaseAggregate) RaiseEvent(event any) error {
	if b.router == nil {
		return ErrNotInitialized
	}
	if isNil(event) {
		return nil
	}
	if b.rehydrating {
		return fmt.Errorf(
			"%w: cannot raise %s on aggregate %q during rehydration",
			ErrInvalidState,
			EventTypeName(event),
			b.id,
		)
	}

	if err := b.router.Dispatch(event); err != nil {
		return err
	}
	b.uncommitted = append(b.uncommitted, event)
	b.version++
	return nil
}

// TakeUncommittedEvents returns the uncommitted events in raise order and
// clears them. The aggregate is settled afterwards: original version equals
// version.
func (b *BaseAggregate) TakeUncommittedEvents() []any {
	out := b.uncommitted
	if out == nil {
		out = []any{}
	}
	b.uncommitted = nil
	b.originalVersion = b.version
	return out
}

// Uncommitted returns a copy of the uncommitted events without draining them.
func (b *BaseAggregate) Uncommitted() []any {
	out := make([]any, len(b.uncommitted))
	copy(out, b.uncommitted)
	return out
}

// HandlerNotFound is the escalation hook used by strict routers.
func (b *BaseAggregate) HandlerNotFound(event any) error {
	return &HandlerNotFoundError{
		EventType:   EventTypeName(event),
		AggregateID: b.id,
	}
}

// Equal compares identities only. Aggregates of different types or with
// diverging state are equal when their ids are.
func (b *BaseAggregate) Equal(other Identifier) bool {
	return SameIdentity(b, other)
}

// Hash is derived from the id alone, consistent with Equal.
func (b *BaseAggregate) Hash() uint64 { return HashID(b.id) }

// Checked runs thenFunc only if c holds.
func (b *BaseAggregate) Checked(c assert.Cond, thenFunc func() error) error {
	err := c.Check()
	if err != nil {
		return err
	}
	return thenFunc()
}

// SameIdentity reports whether a and b carry the same non-empty id.
func SameIdentity(a, b Identifier) bool {
	if isNil(a) || isNil(b) {
		return false
	}
	id := a.GetID()
	return id != "" && id == b.GetID()
}

// HashID hashes an aggregate id with FNV-1a.
func HashID(id string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return h.Sum64()
}

// === Helpers ===

type eventRaiser interface {
	RaiseEvent(event any) error
}

// Raise validates all events first and then raises them in order. Events
// implementing Validate() error are checked; if any is invalid, nothing is
// raised. Raising stops at the first handler error.
func Raise(a eventRaiser, events ...any) error {
	for _, e := range events {
		if ev, ok := e.(interface{ Validate() error }); ok && !isNil(e) {
			if err := ev.Validate(); err != nil {
				return fmt.Errorf("invalid event %T: %w", e, err)
			}
		}
	}

	for _, e := range events {
		if err := a.RaiseEvent(e); err != nil {
			return err
		}
	}
	return nil
}

// RaiseD defers Raise, for use with Checked.
func RaiseD(a eventRaiser, events ...any) func() error {
	return func() error {
		return Raise(a, events...)
	}
}

var _ Aggregate = (*BaseAggregate)(nil)
