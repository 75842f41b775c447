package es

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/codewandler/esk-go/core/reflector"
)

// EventRegistry maps event type names to constructors so persisted events can
// be decoded back into the exact type their handlers expect.
type EventRegistry struct {
	mu   sync.RWMutex
	news map[string]func() any
}

func NewEventRegistry() *EventRegistry {
	return &EventRegistry{news: map[string]func() any{}}
}

func (r *EventRegistry) Register(eventType string, ctor func() any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.news[eventType] = ctor
}

// Has reports whether eventType can be decoded.
func (r *EventRegistry) Has(eventType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.news[eventType]
	return ok
}

func (r *EventRegistry) Decode(env Envelope) (any, error) {
	r.mu.RLock()
	ctor, ok := r.news[env.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, env.Type)
	}
	ev := ctor()
	if len(env.Data) == 0 {
		return ev, nil
	}

	// value events are decoded through a pointer and handed out by value
	rv := reflect.ValueOf(ev)
	if rv.Kind() == reflect.Pointer {
		if err := json.Unmarshal(env.Data, ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return ev, nil
	}
	ptr := reflect.New(rv.Type())
	if err := json.Unmarshal(env.Data, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return ptr.Elem().Interface(), nil
}

// Encode returns the registered type name and JSON payload of event.
func (r *EventRegistry) Encode(event any) (eventType string, data []byte, err error) {
	if isNil(event) {
		return "", nil, fmt.Errorf("%w: nil event", ErrInvalidArgument)
	}
	eventType = EventType(event)
	if !r.Has(eventType) {
		return "", nil, fmt.Errorf("%w: %s is not registered", ErrUnknownEventType, eventType)
	}
	data, err = json.Marshal(event)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s: %w", eventType, err)
	}
	return eventType, data, nil
}

type Registrar interface {
	Register(eventType string, ctor func() any)
}

// RegisterEventFor registers *T under the name of T.
func RegisterEventFor[T any](r Registrar) {
	ti := reflector.TypeInfoFor[T]()
	r.Register(ti.Name, func() any {
		return any(new(T))
	})
}

// Event returns a reflection-free constructor for an event of type T.
// Each call to the returned function constructs a fresh *T via new(T).
func Event[T any]() func() any { return func() any { return new(T) } }

// ValueEvent is like Event but decodes into T instead of *T, for aggregates
// handling events by value.
func ValueEvent[T any]() func() any { return func() any { return *new(T) } }

// RegisterEvents registers event constructors. Each constructor is called once
// to derive the event type name.
func RegisterEvents(r Registrar, ctors ...func() any) {
	for _, ctor := range ctors {
		sample := ctor()
		r.Register(EventType(sample), ctor)
	}
}

// RegisterRouterEvents registers every event type a router has a handler for,
// so handled events can be decoded into exactly the type the handler expects.
func RegisterRouterEvents(r Registrar, router interface{ EventTypes() []reflect.Type }) {
	for _, t := range router.EventTypes() {
		if t.Kind() == reflect.Pointer {
			elem := t.Elem()
			RegisterEvents(r, func() any { return reflect.New(elem).Interface() })
			continue
		}
		RegisterEvents(r, func() any { return reflect.Zero(t).Interface() })
	}
}

// EventType is the persisted type name of event: its EventType() method if it
// has one, otherwise the fully qualified Go type name.
func EventType(ev any) (eventType string) {
	switch t := ev.(type) {
	case interface{ EventType() string }:
		if !isNil(ev) {
			return t.EventType()
		}
	}
	return reflector.TypeInfoOf(ev).Name
}
