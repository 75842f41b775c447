package es

import (
	"fmt"
	"reflect"

	"github.com/codewandler/esk-go/core/reflector"
)

// HandlerFunc mutates aggregate state in response to a single event.
type HandlerFunc func(event any) error

// HandlerRegistrar accepts handler registrations keyed by exact event type.
type HandlerRegistrar interface {
	RegisterHandler(eventType reflect.Type, handler HandlerFunc) error
}

// EventRouter routes an event to the handler registered for its runtime type.
//
// Dispatch requires a non-nil event. Lookup uses the exact dynamic type of the
// event: *T and T are different keys and no interface matching takes place.
type EventRouter interface {
	HandlerRegistrar
	Dispatch(event any) error
}

// HandlerProvider is implemented by aggregates that supply their own handler
// table. The default router collects it once, when the aggregate is initialized.
//
//	func (a *Account) Handlers(r es.HandlerRegistrar) error {
//	    return errors.Join(
//	        es.On(r, a.onOpened),
//	        es.On(r, a.onDeposited),
//	    )
//	}
type HandlerProvider interface {
	Handlers(r HandlerRegistrar) error
}

// HandlerOwner is the aggregate a router is bound to. Strict routers escalate
// missing handlers through HandlerNotFound.
type HandlerOwner interface {
	GetID() string
	HandlerNotFound(event any) error
}

// RouterFactory creates the router bound to owner for the owner's lifetime.
type RouterFactory func(owner HandlerOwner) (EventRouter, error)

// On registers fn as the handler for events of type T.
func On[T any](r HandlerRegistrar, fn func(T)) error {
	if fn == nil {
		return fmt.Errorf("%w: nil handler for %s", ErrInvalidArgument, typeName(reflect.TypeFor[T]()))
	}
	return OnErr(r, func(e T) error {
		fn(e)
		return nil
	})
}

// OnErr registers fn as the handler for events of type T. Errors returned by
// fn propagate unchanged to the caller of Dispatch.
func OnErr[T any](r HandlerRegistrar, fn func(T) error) error {
	t := reflect.TypeFor[T]()
	if fn == nil {
		return fmt.Errorf("%w: nil handler for %s", ErrInvalidArgument, typeName(t))
	}
	if r == nil {
		return fmt.Errorf("%w: nil registrar", ErrInvalidArgument)
	}
	return r.RegisterHandler(t, func(event any) error {
		return fn(event.(T))
	})
}

// EventTypeName returns the diagnostic name of the dynamic type of event.
func EventTypeName(event any) string {
	return typeName(reflect.TypeOf(event))
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	name := reflector.TypeInfoForType(t).Name
	if t.Kind() == reflect.Pointer {
		return "*" + name
	}
	return name
}

func validateHandler(eventType reflect.Type, handler HandlerFunc) error {
	if eventType == nil {
		return fmt.Errorf("%w: nil event type", ErrInvalidArgument)
	}
	if eventType.Kind() == reflect.Interface {
		return fmt.Errorf("%w: %s is an interface, handlers bind concrete types", ErrInvalidArgument, eventType)
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %s", ErrInvalidArgument, typeName(eventType))
	}
	return nil
}

// isNil reports whether v is nil or a typed nil.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
