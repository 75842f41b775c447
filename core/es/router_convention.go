package es

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
)

type (
	routerOpts          struct{ strict bool }
	RouterOption        interface{ applyToRouter(*routerOpts) }
	StrictRoutingOption valueOption[bool]
)

// WithStrictRouting makes missing handlers fatal: dispatch of an event
// without a handler fails with ErrHandlerNotFound.
func WithStrictRouting() StrictRoutingOption { return StrictRoutingOption{v: true} }

func (o StrictRoutingOption) applyToRouter(opts *routerOpts) { opts.strict = o.v }

// ConventionRouter is the default EventRouter. It collects the handler table
// of the aggregate it is registered with and accepts explicit registrations
// afterwards. Both sources share one table; the last registration for a type
// wins.
type ConventionRouter struct {
	handlers map[reflect.Type]HandlerFunc
	strict   bool
	owner    HandlerOwner
}

func NewConventionRouter(opts ...RouterOption) *ConventionRouter {
	options := routerOpts{}
	for _, opt := range opts {
		opt.applyToRouter(&options)
	}
	return &ConventionRouter{
		handlers: map[reflect.Type]HandlerFunc{},
		strict:   options.strict,
	}
}

// ConventionRouterFactory returns a RouterFactory that binds a new
// ConventionRouter to each owner.
func ConventionRouterFactory(opts ...RouterOption) RouterFactory {
	return func(owner HandlerOwner) (EventRouter, error) {
		r := NewConventionRouter(opts...)
		if err := r.Register(owner); err != nil {
			return nil, err
		}
		return r, nil
	}
}

func (r *ConventionRouter) Strict() bool { return r.strict }

// Register binds the router to owner and merges the owner's handler table,
// if it provides one. A table that names the same event type twice is
// rejected with ErrInvalidConfiguration and nothing is merged.
func (r *ConventionRouter) Register(owner HandlerOwner) error {
	if isNil(owner) {
		return fmt.Errorf("%w: nil aggregate", ErrInvalidArgument)
	}
	r.owner = owner

	provider, ok := owner.(HandlerProvider)
	if !ok {
		return nil
	}

	table := handlerTable{}
	if err := provider.Handlers(table); err != nil {
		return fmt.Errorf("collect handlers of %T: %w", owner, err)
	}
	for t, h := range table {
		r.handlers[t] = h
	}
	return nil
}

func (r *ConventionRouter) RegisterHandler(eventType reflect.Type, handler HandlerFunc) error {
	if err := validateHandler(eventType, handler); err != nil {
		return err
	}
	r.handlers[eventType] = handler
	return nil
}

func (r *ConventionRouter) Dispatch(event any) error {
	if isNil(event) {
		return fmt.Errorf("%w: nil event", ErrInvalidArgument)
	}

	if h, ok := r.handlers[reflect.TypeOf(event)]; ok {
		return h(event)
	}

	if !r.strict {
		return nil
	}
	if r.owner == nil {
		return &HandlerNotFoundError{EventType: EventTypeName(event)}
	}
	return r.owner.HandlerNotFound(event)
}

// Handles reports whether a handler is registered for the exact type of event.
func (r *ConventionRouter) Handles(event any) bool {
	if isNil(event) {
		return false
	}
	_, ok := r.handlers[reflect.TypeOf(event)]
	return ok
}

// EventTypes returns the registered event types ordered by name.
func (r *ConventionRouter) EventTypes() []reflect.Type {
	out := make([]reflect.Type, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b reflect.Type) int {
		return strings.Compare(typeName(a), typeName(b))
	})
	return out
}

var _ EventRouter = (*ConventionRouter)(nil)

// handlerTable collects a HandlerProvider's table and rejects duplicates.
type handlerTable map[reflect.Type]HandlerFunc

func (t handlerTable) RegisterHandler(eventType reflect.Type, handler HandlerFunc) error {
	if err := validateHandler(eventType, handler); err != nil {
		return err
	}
	if _, exists := t[eventType]; exists {
		return fmt.Errorf("%w: more than one handler for %s", ErrInvalidConfiguration, typeName(eventType))
	}
	t[eventType] = handler
	return nil
}
