package es

import (
	"errors"
	"fmt"
)

var errBoom = errors.New("boom")

type (
	eventX struct {
		N int `json:"n"`
	}
	eventY struct {
		Name string `json:"name"`
	}
	eventZ       struct{}
	eventFail    struct{}
	valueEvent   struct{ V int }
	namedEvent   struct{}
	invalidEvent struct{}
)

func (namedEvent) EventType() string { return "named.v1" }
func (invalidEvent) Validate() error { return fmt.Errorf("always invalid") }

// testAgg routes eventX, eventY, eventFail and valueEvent through its handler table.
type testAgg struct {
	BaseAggregate
	xs     []int
	ys     []string
	values []int
}

func newTestAgg(id string, opts ...AggregateOption) (*testAgg, error) {
	a := &testAgg{}
	if err := a.Init(a, id, opts...); err != nil {
		return nil, err
	}
	return a, nil
}

func mustTestAgg(id string, opts ...AggregateOption) *testAgg {
	a, err := newTestAgg(id, opts...)
	if err != nil {
		panic(err)
	}
	return a
}

func (a *testAgg) Handlers(r HandlerRegistrar) error {
	return errors.Join(
		On(r, func(e *eventX) { a.xs = append(a.xs, e.N) }),
		On(r, func(e *eventY) { a.ys = append(a.ys, e.Name) }),
		On(r, func(e valueEvent) { a.values = append(a.values, e.V) }),
		OnErr(r, func(*eventFail) error { return errBoom }),
	)
}

func (a *testAgg) DoXY() error {
	return Raise(a, &eventX{N: 1}, &eventY{Name: "y"})
}

// otherAgg has no handler table at all.
type otherAgg struct {
	BaseAggregate
}

func newOtherAgg(id string) (*otherAgg, error) {
	a := &otherAgg{}
	if err := a.Init(a, id); err != nil {
		return nil, err
	}
	return a, nil
}

// ambiguousAgg registers two handlers for eventX.
type ambiguousAgg struct {
	BaseAggregate
}

func (a *ambiguousAgg) Handlers(r HandlerRegistrar) error {
	if err := On(r, func(*eventX) {}); err != nil {
		return err
	}
	return On(r, func(*eventX) {})
}
