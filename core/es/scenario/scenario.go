// Package scenario tests aggregates with given/when/then scenarios.
//
//	scenario.For(NewAccount).
//	    Given(&Opened{}).
//	    When(func(a *Account) error { return a.Deposit(10) }).
//	    Then(&Deposited{Amount: 10}).
//	    Check(t)
//
// Given events are replayed through a rehydration session, so they never show
// up as raised events. Then compares the events raised by When, in order.
package scenario

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/esk-go/core/es"
)

// DefaultID is the aggregate id used unless WithID is called.
const DefaultID = "scenario"

var (
	ErrConstruct        = errors.New("scenario: construction failed")
	ErrGiven            = errors.New("scenario: given events could not be applied")
	ErrNoWhen           = errors.New("scenario: no when")
	ErrUnexpectedError  = errors.New("scenario: unexpected error")
	ErrMissingError     = errors.New("scenario: expected an error")
	ErrUnexpectedEvents = errors.New("scenario: unexpected events")
)

type Scenario[T es.Aggregate] struct {
	factory es.Factory[T]
	id      string
	given   []any
	when    func(T) error
	create  func() (T, error)
	then    []any

	expectErr  func(error) bool
	expectDesc string
	cmpOpts    cmp.Options
}

// For starts a scenario for aggregates built by factory.
func For[T es.Aggregate](factory es.Factory[T]) *Scenario[T] {
	return &Scenario[T]{
		factory: factory,
		id:      DefaultID,
		cmpOpts: cmp.Options{
			cmp.Exporter(func(reflect.Type) bool { return true }),
			cmpopts.EquateEmpty(),
		},
	}
}

func (s *Scenario[T]) WithID(id string) *Scenario[T] {
	s.id = id
	return s
}

// WithCmpOptions adds options for comparing expected and raised events.
func (s *Scenario[T]) WithCmpOptions(opts ...cmp.Option) *Scenario[T] {
	s.cmpOpts = append(s.cmpOpts, opts...)
	return s
}

// Given sets the history replayed before When runs.
func (s *Scenario[T]) Given(events ...any) *Scenario[T] {
	s.given = append(s.given, events...)
	return s
}

func (s *Scenario[T]) When(fn func(agg T) error) *Scenario[T] {
	s.when = fn
	return s
}

// WhenCreated makes construction itself the behavior under test. Events
// raised by the constructor are compared by Then, and a constructor error is
// matched by ThenFails. Given events are not supported together with it.
func (s *Scenario[T]) WhenCreated(create func() (T, error)) *Scenario[T] {
	s.create = create
	return s
}

// Then sets the expected events. Calling it without events expects none.
func (s *Scenario[T]) Then(events ...any) *Scenario[T] {
	s.then = append(s.then, events...)
	return s
}

// ThenFails expects When to fail with an error matching target via errors.Is.
// A nil target accepts any error.
func (s *Scenario[T]) ThenFails(target error) *Scenario[T] {
	if target == nil {
		s.expectErr = func(err error) bool { return err != nil }
		s.expectDesc = "any error"
		return s
	}
	s.expectErr = func(err error) bool { return errors.Is(err, target) }
	s.expectDesc = target.Error()
	return s
}

// ThenFailsWith expects When to fail with an error accepted by match.
func (s *Scenario[T]) ThenFailsWith(match func(error) bool) *Scenario[T] {
	s.expectErr = match
	s.expectDesc = "matching error"
	return s
}

// Run executes the scenario. It returns nil if all expectations hold.
func (s *Scenario[T]) Run() error {
	agg, err := s.arrange()
	if err != nil {
		return err
	}

	agg, err = s.act(agg)
	if s.expectErr != nil {
		if err == nil {
			return fmt.Errorf("%w: %s", ErrMissingError, s.expectDesc)
		}
		if !s.expectErr(err) {
			return fmt.Errorf("%w: want %s, got %w", ErrUnexpectedError, s.expectDesc, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnexpectedError, err)
	}

	raised := agg.TakeUncommittedEvents()
	if diff := cmp.Diff(s.then, raised, s.cmpOpts); diff != "" {
		return fmt.Errorf("%w (-want +got):\n%s", ErrUnexpectedEvents, diff)
	}
	return nil
}

// Check runs the scenario and fails t if it does not pass.
func (s *Scenario[T]) Check(t require.TestingT) {
	if h, ok := t.(interface{ Helper() }); ok {
		h.Helper()
	}
	require.NoError(t, s.Run())
}

// arrange builds the aggregate and replays the given history. For WhenCreated
// scenarios construction belongs to act.
func (s *Scenario[T]) arrange() (agg T, err error) {
	if s.create != nil {
		if len(s.given) > 0 {
			return agg, fmt.Errorf("%w: given events with WhenCreated", ErrGiven)
		}
		return agg, nil
	}
	if s.when == nil {
		return agg, ErrNoWhen
	}

	agg, err = s.factory.New(s.id)
	if err != nil {
		return agg, fmt.Errorf("%w: %w", ErrConstruct, err)
	}
	// events raised while constructing count as history
	agg.TakeUncommittedEvents()

	if err := es.RehydrateEvents(agg, s.given...); err != nil {
		return agg, fmt.Errorf("%w: %w", ErrGiven, err)
	}
	return agg, nil
}

func (s *Scenario[T]) act(agg T) (T, error) {
	if s.create == nil {
		return agg, s.when(agg)
	}

	created, err := s.create()
	if err != nil {
		return created, err
	}
	if reflect.ValueOf(&created).Elem().IsZero() {
		return created, fmt.Errorf("%w: constructor returned no aggregate", ErrConstruct)
	}
	if s.when != nil {
		return created, s.when(created)
	}
	return created, nil
}
