package es

import (
	"errors"
	"fmt"
)

// kernel errors
var (
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrInvalidState         = errors.New("invalid state")
	ErrHandlerNotFound      = errors.New("handler not found")
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrNotInitialized       = fmt.Errorf("%w: aggregate not initialized", ErrInvalidState)
)

// persistence errors
var (
	ErrAggregateNotFound   = errors.New("aggregate not found")
	ErrStreamNotFound      = errors.New("stream not found")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrDuplicateCommit     = errors.New("duplicate commit")
	ErrUnknownEventType    = errors.New("unknown event type")
	ErrStoreNoEvents       = errors.New("no events to store")
)

// HandlerNotFoundError is returned by strict routers when an event has no handler.
type HandlerNotFoundError struct {
	EventType   string
	AggregateID string
}

func (e *HandlerNotFoundError) Error() string {
	return fmt.Sprintf(
		"%s: no handler for event %s on aggregate %q",
		ErrHandlerNotFound,
		e.EventType,
		e.AggregateID,
	)
}

func (e *HandlerNotFoundError) Is(target error) bool { return target == ErrHandlerNotFound }
