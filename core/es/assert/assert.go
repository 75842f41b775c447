// Package assert provides named conditions that guard aggregate commands.
//
//	return a.Checked(assert.All(
//	    assert.True(amount > 0, "amount is positive"),
//	    assert.False(a.closed, "account is open"),
//	), es.RaiseD(a, &Deposited{Amount: amount}))
package assert

import (
	"errors"
	"fmt"
	"strings"
)

// ErrFailed is matched by every error returned from Cond.Check.
var ErrFailed = errors.New("assertion failed")

type Func func() error
type CondFunc func() bool

type Cond interface {
	String() string
	Eval() bool
	Check() error
}

// FailedError names the condition that did not hold.
type FailedError struct {
	Name string
}

func (e *FailedError) Error() string        { return fmt.Sprintf("%s: %s", ErrFailed, e.Name) }
func (e *FailedError) Is(target error) bool { return target == ErrFailed }

type cond struct {
	name  string
	cond  CondFunc
	check func() error
}

func (c *cond) Check() error   { return c.check() }
func (c *cond) String() string { return c.name }
func (c *cond) Eval() bool     { return c.cond() }

func newCond(name string, condFn CondFunc) *cond {
	return &cond{name: name, cond: condFn, check: func() error {
		if !condFn() {
			return &FailedError{Name: name}
		}
		return nil
	}}
}

// That evaluates fn lazily, on every Eval or Check.
func That(fn CondFunc, name string) Cond { return newCond(name, fn) }

func Not(c Cond) Cond {
	return newCond(fmt.Sprintf("[not](%s)", c.String()), func() bool { return !c.Eval() })
}
func True(v bool, name string) Cond  { return newCond(name, func() bool { return v }) }
func False(v bool, name string) Cond { return newCond(name, func() bool { return !v }) }

// All holds when every condition holds. Check reports the first failing one.
func All(cs ...Cond) Cond {
	all := newCond("all", func() bool {
		for _, c := range cs {
			if !c.Eval() {
				return false
			}
		}
		return true
	})

	all.check = func() error {
		for _, c := range cs {
			if err := c.Check(); err != nil {
				return err
			}
		}
		return nil
	}

	return all
}

// Any holds when at least one condition holds.
func Any(cs ...Cond) Cond {
	names := make([]string, 0, len(cs))
	for _, c := range cs {
		names = append(names, c.String())
	}
	return newCond("[any]("+strings.Join(names, ", ")+")", func() bool {
		for _, c := range cs {
			if c.Eval() {
				return true
			}
		}
		return false
	})
}

func Assert(cond ...Cond) Func {
	return All(cond...).Check
}
