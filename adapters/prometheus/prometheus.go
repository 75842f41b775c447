// Package prometheus provides the Prometheus implementation of the
// event-sourcing metrics hooks.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/esk-go/core/metrics"
)

// timer wraps a Prometheus histogram to implement the Timer interface.
type timer struct {
	h     prometheus.Observer
	start time.Time
}

func newTimer(h prometheus.Observer) metrics.Timer {
	return &timer{h: h, start: time.Now()}
}

func (t *timer) ObserveDuration() {
	t.h.Observe(time.Since(t.start).Seconds())
}

// Default histogram buckets for latency metrics (in seconds).
var defaultBuckets = []float64{
	.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10,
}

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "esk"

type (
	options struct {
		namespace string
		buckets   []float64
	}
	Option func(*options)
)

// WithNamespace replaces DefaultNamespace.
func WithNamespace(ns string) Option { return func(o *options) { o.namespace = ns } }

// WithBuckets sets the latency histogram buckets, in seconds.
func WithBuckets(b ...float64) Option { return func(o *options) { o.buckets = b } }

func newOptions(opts ...Option) options {
	o := options{namespace: DefaultNamespace, buckets: defaultBuckets}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
