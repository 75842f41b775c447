package es

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConventionRouter_Dispatch(t *testing.T) {
	t.Run("exact type", func(t *testing.T) {
		r := NewConventionRouter()
		var got []*eventX
		require.NoError(t, On(r, func(e *eventX) { got = append(got, e) }))

		ev := &eventX{N: 1}
		require.NoError(t, r.Dispatch(ev))
		require.NoError(t, r.Dispatch(&eventY{}))
		require.NoError(t, r.Dispatch(eventX{N: 2}), "value and pointer are distinct types")

		require.Len(t, got, 1)
		require.Same(t, ev, got[0])
	})

	t.Run("value events", func(t *testing.T) {
		a := mustTestAgg("a")
		require.NoError(t, a.RaiseEvent(valueEvent{V: 7}))
		require.NoError(t, a.RaiseEvent(&valueEvent{V: 8}))
		require.Equal(t, []int{7}, a.values)
		require.Equal(t, Version(2), a.GetVersion())
	})

	t.Run("nil event", func(t *testing.T) {
		r := NewConventionRouter()
		require.ErrorIs(t, r.Dispatch(nil), ErrInvalidArgument)
		require.ErrorIs(t, r.Dispatch((*eventX)(nil)), ErrInvalidArgument)
	})

	t.Run("lenient ignores missing handlers", func(t *testing.T) {
		r := NewConventionRouter()
		require.False(t, r.Strict())
		require.NoError(t, r.Dispatch(&eventZ{}))
	})

	t.Run("strict without owner", func(t *testing.T) {
		r := NewConventionRouter(WithStrictRouting())
		require.True(t, r.Strict())
		err := r.Dispatch(&eventZ{})
		require.ErrorIs(t, err, ErrHandlerNotFound)
	})

	t.Run("handler errors propagate", func(t *testing.T) {
		r := NewConventionRouter()
		require.NoError(t, OnErr(r, func(*eventFail) error { return errBoom }))
		require.Equal(t, errBoom, r.Dispatch(&eventFail{}))
	})
}

func TestConventionRouter_Register(t *testing.T) {
	t.Run("nil handler", func(t *testing.T) {
		r := NewConventionRouter()
		require.ErrorIs(t, On[*eventX](r, nil), ErrInvalidArgument)
		require.ErrorIs(t, OnErr[*eventX](r, nil), ErrInvalidArgument)
		require.ErrorIs(t, r.RegisterHandler(reflect.TypeFor[*eventX](), nil), ErrInvalidArgument)
		require.ErrorIs(t, r.RegisterHandler(nil, func(any) error { return nil }), ErrInvalidArgument)
		require.ErrorIs(t, On(nil, func(*eventX) {}), ErrInvalidArgument)
	})

	t.Run("interfaces are rejected", func(t *testing.T) {
		r := NewConventionRouter()
		require.ErrorIs(t, On(r, func(fmt.Stringer) {}), ErrInvalidArgument)
	})

	t.Run("last registration wins", func(t *testing.T) {
		r := NewConventionRouter()
		var calls []string
		require.NoError(t, On(r, func(*eventX) { calls = append(calls, "first") }))
		require.NoError(t, On(r, func(*eventX) { calls = append(calls, "second") }))
		require.NoError(t, r.Dispatch(&eventX{}))
		require.Equal(t, []string{"second"}, calls)
	})

	t.Run("explicit overrides convention", func(t *testing.T) {
		a := mustTestAgg("a")
		calls := 0
		require.NoError(t, On(a.Router(), func(*eventX) { calls++ }))

		require.NoError(t, a.RaiseEvent(&eventX{N: 1}))
		require.Equal(t, 1, calls)
		require.Empty(t, a.xs)

		// other convention handlers are untouched
		require.NoError(t, a.RaiseEvent(&eventY{Name: "y"}))
		require.Equal(t, []string{"y"}, a.ys)
	})

	t.Run("ambiguous table", func(t *testing.T) {
		a := &ambiguousAgg{}
		err := a.Init(a, "a")
		require.ErrorIs(t, err, ErrInvalidConfiguration)
		require.ErrorContains(t, err, "eventX")
		require.Empty(t, a.GetID())
		require.ErrorIs(t, a.RaiseEvent(&eventX{}), ErrNotInitialized)
	})

	t.Run("nil owner", func(t *testing.T) {
		require.ErrorIs(t, NewConventionRouter().Register(nil), ErrInvalidArgument)
	})

	t.Run("event types", func(t *testing.T) {
		a := mustTestAgg("a")
		router, ok := a.Router().(*ConventionRouter)
		require.True(t, ok)
		require.True(t, router.Handles(&eventX{}))
		require.False(t, router.Handles(&eventZ{}))
		require.False(t, router.Handles(nil))
		require.Equal(t, []reflect.Type{
			reflect.TypeFor[*eventFail](),
			reflect.TypeFor[*eventX](),
			reflect.TypeFor[*eventY](),
			reflect.TypeFor[valueEvent](),
		}, router.EventTypes())
	})
}

func TestEventTypeName(t *testing.T) {
	require.Equal(t, "github.com/codewandler/esk-go/core/es.eventX", EventTypeName(eventX{}))
	require.Equal(t, "*github.com/codewandler/esk-go/core/es.eventX", EventTypeName(&eventX{}))
	require.Equal(t, "<nil>", EventTypeName(nil))
}
