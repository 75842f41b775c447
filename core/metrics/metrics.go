// Package metrics provides the abstract instruments the core packages are
// instrumented with, so backends such as Prometheus can be plugged in without
// the core depending on them.
package metrics

// Timer measures the duration of an operation. Call ObserveDuration when
// the operation completes to record the elapsed time.
type Timer interface {
	// ObserveDuration records the elapsed time since the timer was created.
	ObserveDuration()
}
