package circuitbreaker

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vyrodovalexey/rentgw/internal/observability"
)

// Registry owns one breaker per target, created on first use.
type Registry struct {
	breakers  sync.Map
	defaults  Config
	overrides map[string]Config
	logger    observability.Logger
	metrics   *Metrics
	events    *EventBus
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger.
func WithRegistryLogger(l observability.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = l
	}
}

// WithRegistryMetrics sets the metrics.
func WithRegistryMetrics(m *Metrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithEventBus sets the bus transitions are published on.
func WithEventBus(b *EventBus) RegistryOption {
	return func(r *Registry) {
		r.events = b
	}
}

// NewRegistry creates a registry. Per-target overrides are merged over
// defaults; both are validated up front.
func NewRegistry(defaults Config, overrides map[string]Config, opts ...RegistryOption) (*Registry, error) {
	if err := defaults.Validate(); err != nil {
		return nil, fmt.Errorf("invalid circuit breaker defaults: %w", err)
	}

	r := &Registry{
		defaults:  defaults,
		overrides: make(map[string]Config, len(overrides)),
		logger:    observability.NopLogger(),
	}
	for target, o := range overrides {
		merged := defaults.Merge(o)
		if err := merged.Validate(); err != nil {
			return nil, fmt.Errorf("invalid circuit breaker config for %q: %w", target, err)
		}
		r.overrides[target] = merged
	}

	for _, opt := range opts {
		opt(r)
	}
	if r.events == nil {
		r.events = NewEventBus(r.metrics)
	}

	return r, nil
}

// ConfigFor returns the effective settings of target.
func (r *Registry) ConfigFor(target string) Config {
	if cfg, ok := r.overrides[target]; ok {
		return cfg
	}
	return r.defaults
}

// Breaker returns the breaker of target, creating it on first use.
func (r *Registry) Breaker(target string) *Breaker {
	if value, ok := r.breakers.Load(target); ok {
		return value.(*Breaker)
	}

	b := newBreaker(target, r.ConfigFor(target), r.logger, r.metrics, r.events)

	actual, loaded := r.breakers.LoadOrStore(target, b)
	if loaded {
		return actual.(*Breaker)
	}

	r.logger.Debug("created circuit breaker",
		observability.String("target", target),
	)

	return b
}

// Get returns the breaker of target if it exists.
func (r *Registry) Get(target string) (*Breaker, bool) {
	value, ok := r.breakers.Load(target)
	if !ok {
		return nil, false
	}
	return value.(*Breaker), true
}

// Events returns the transition event bus.
func (r *Registry) Events() *EventBus {
	return r.events
}

// Snapshots returns a snapshot of every breaker ordered by target.
func (r *Registry) Snapshots() []Snapshot {
	var out []Snapshot
	r.breakers.Range(func(_, value interface{}) bool {
		out = append(out, value.(*Breaker).Snapshot())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out
}

// Len returns the number of breakers.
func (r *Registry) Len() int {
	n := 0
	r.breakers.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// Close closes the event bus.
func (r *Registry) Close() {
	r.events.Close()
}

// Invoke runs fn under the breaker of target.
func Invoke[T any](ctx context.Context, r *Registry, target string, fn func(context.Context) (T, error)) (T, error) {
	return Call(ctx, r.Breaker(target), fn)
}
