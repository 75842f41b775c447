// Package domain holds a small counter aggregate used by the store and
// repository tests.
package domain

import (
	"errors"

	"github.com/codewandler/esk-go/core/es"
	"github.com/codewandler/esk-go/core/es/assert"
)

const MaxCount = 24

var ErrLimitExceeded = errors.New("counter cannot exceed 24")

type (
	TestAgg struct {
		es.BaseAggregate

		Counter        uint16 `json:"counter"`
		NumIncrements  int    `json:"num_increments"`
		NumResets      int    `json:"num_resets"`
		NumTotalEvents int    `json:"num_total_events"`
	}

	Incremented struct {
		Inc uint8 `json:"inc"`
	}

	CounterReset struct{}
)

func (a *TestAgg) GetAggType() string { return "test_agg" }

func (a *TestAgg) Handlers(r es.HandlerRegistrar) error {
	return errors.Join(
		es.On(r, func(e *Incremented) {
			a.NumTotalEvents++
			a.Counter += uint16(e.Inc)
			a.NumIncrements++
		}),
		es.On(r, func(*CounterReset) {
			a.NumTotalEvents++
			a.Counter = 0
			a.NumResets++
		}),
	)
}

// RegisterEvents registers every event of TestAgg with r.
func RegisterEvents(r es.Registrar) {
	es.RegisterEvents(r, es.Event[Incremented](), es.Event[CounterReset]())
}

// === Commands ===

func (a *TestAgg) Reset() error { return a.RaiseEvent(&CounterReset{}) }
func (a *TestAgg) Inc() error   { return a.IncBy(1) }

func (a *TestAgg) IncBy(v uint8) error {
	err := a.Checked(
		assert.That(func() bool { return int(a.Counter)+int(v) <= MaxCount }, "counter within limit"),
		es.RaiseD(a, &Incremented{Inc: v}),
	)
	if errors.Is(err, assert.ErrFailed) {
		return ErrLimitExceeded
	}
	return err
}

// === Read ===

func (a *TestAgg) Count() int {
	return int(a.Counter)
}

func NewTestAgg(id string) (*TestAgg, error) {
	a := &TestAgg{}
	if err := a.Init(a, id); err != nil {
		return nil, err
	}
	return a, nil
}

// Factory builds TestAgg values for repositories.
var Factory es.Factory[*TestAgg] = NewTestAgg
