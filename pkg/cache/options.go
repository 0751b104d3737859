package cache

import "github.com/prometheus/client_golang/prometheus"

type options[V any] struct {
	copyFn     func(V) V
	sizeFn     func(V) int64
	registerer prometheus.Registerer
	component  string
}

// Option configures a Cache.
type Option[V any] func(*options[V])

// WithCopier copies values on Put and Get so cached state is never shared.
func WithCopier[V any](fn func(V) V) Option[V] {
	return func(o *options[V]) { o.copyFn = fn }
}

// WithSizer replaces the JSON-length size estimate.
func WithSizer[V any](fn func(V) int64) Option[V] {
	return func(o *options[V]) { o.sizeFn = fn }
}

// WithMetrics exposes cache counters through reg, labelled by component.
func WithMetrics[V any](reg prometheus.Registerer, component string) Option[V] {
	return func(o *options[V]) {
		o.registerer = reg
		o.component = component
	}
}
