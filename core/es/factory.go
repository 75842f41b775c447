package es

import "fmt"

// Factory constructs a new, empty aggregate with the given id. It replaces
// constructor discovery: callers inject the constructor explicitly.
//
//	var newAccount es.Factory[*Account] = NewAccount
type Factory[T Aggregate] func(id string) (T, error)

// New calls the factory and checks the result. A constructor error is
// returned unchanged and no aggregate escapes.
func (f Factory[T]) New(id string) (agg T, err error) {
	var zero T
	if f == nil {
		return zero, fmt.Errorf("%w: nil factory", ErrInvalidConfiguration)
	}
	if id == "" {
		return zero, fmt.Errorf("%w: id is required", ErrInvalidArgument)
	}
	agg, err = f(id)
	if err != nil {
		return zero, err
	}
	if isNil(agg) {
		return zero, fmt.Errorf("%w: factory returned no aggregate for %q", ErrInvalidConfiguration, id)
	}
	if agg.GetID() != id {
		return zero, fmt.Errorf("%w: factory built %q for id %q", ErrInvalidConfiguration, agg.GetID(), id)
	}
	return agg, nil
}
