package es

import "fmt"

// Rehydration is an open replay session on one aggregate. Events applied
// through it update state and version but are never recorded as uncommitted.
// Close must run on every exit path; use defer or Rehydrate.
type Rehydration struct {
	agg    *BaseAggregate
	closed bool
}

// Rehydratable can open a rehydration session.
type Rehydratable interface {
	BeginRehydrate() (*Rehydration, error)
}

// BeginRehydrate opens a rehydration session. Sessions do not nest, and an
// aggregate holding uncommitted events cannot be rehydrated.
func (b *BaseAggregate) BeginRehydrate() (*Rehydration, error) {
	if b.router == nil {
		return nil, ErrNotInitialized
	}
	if b.rehydrating {
		return nil, fmt.Errorf("%w: aggregate %q is already rehydrating", ErrInvalidState, b.id)
	}
	if len(b.uncommitted) > 0 {
		return nil, fmt.Errorf(
			"%w: aggregate %q has %d uncommitted events",
			ErrInvalidState,
			b.id,
			len(b.uncommitted),
		)
	}
	b.rehydrating = true
	return &Rehydration{agg: b}, nil
}

// ApplyEvent routes a historical event to its handler and increments the
// version. A failing handler leaves the version unchanged.
func (r *Rehydration) ApplyEvent(event any) error {
	if r == nil || r.closed {
		return fmt.Errorf("%w: rehydration session is closed", ErrInvalidState)
	}
	if isNil(event) {
		return fmt.Errorf("%w: nil event", ErrInvalidArgument)
	}
	if err := r.agg.router.Dispatch(event); err != nil {
		return err
	}
	r.agg.version++
	return nil
}

// Version returns the aggregate version reached so far.
func (r *Rehydration) Version() Version { return r.agg.version }

// Close ends the session and settles the aggregate: the original version is
// set to the version reached. Calling Close more than once is harmless.
func (r *Rehydration) Close() {
	if r == nil || r.closed {
		return
	}
	r.closed = true
	r.agg.originalVersion = r.agg.version
	r.agg.rehydrating = false
}

// Rehydrate runs fn inside a rehydration session on agg. The session is
// closed when fn returns, fails or panics.
func Rehydrate(agg Rehydratable, fn func(r *Rehydration) error) error {
	r, err := agg.BeginRehydrate()
	if err != nil {
		return err
	}
	defer r.Close()
	return fn(r)
}

// RehydrateEvents replays events in order.
func RehydrateEvents(agg Rehydratable, events ...any) error {
	return Rehydrate(agg, func(r *Rehydration) error {
		for _, e := range events {
			if err := r.ApplyEvent(e); err != nil {
				return err
			}
		}
		return nil
	})
}
