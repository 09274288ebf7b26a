package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/boxvoice/internal/observe"
)

// ErrAllFailed is returned when every member of a [Group] failed or was
// skipped because its breaker is open.
var ErrAllFailed = errors.New("resilience: all providers failed")

// Provider request statuses recorded on the boxvoice.provider.requests
// counter.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusSkipped = "circuit_open"
)

// GroupConfig configures a [Group].
type GroupConfig struct {
	// Kind is the provider kind ("stt", "llm", "tts") used as a metric
	// attribute.
	Kind string

	// Breaker is the template for every member's circuit breaker. Name is
	// overwritten with the member name.
	Breaker CircuitBreakerConfig

	// Final reports errors that are a valid answer from a healthy backend
	// (an empty recognition, for example). Such an error ends the call
	// without failover and does not count against the breaker.
	Final func(error) bool

	// Metrics receives per-attempt counters. Nil uses [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

type member[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// Group holds a primary backend and zero or more fallbacks of the same
// provider type. Calls try members in registration order, skipping those
// whose breaker is open.
//
// Members must be added before the group is shared between goroutines.
type Group[T any] struct {
	cfg     GroupConfig
	members []member[T]
}

// NewGroup creates a [Group] with primary as its first member.
func NewGroup[T any](name string, primary T, cfg GroupConfig) *Group[T] {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	g := &Group[T]{cfg: cfg}
	g.Add(name, primary)
	return g
}

// Add appends a fallback member.
func (g *Group[T]) Add(name string, value T) {
	bc := g.cfg.Breaker
	bc.Name = name
	if final := g.cfg.Final; final != nil {
		inner := bc.IsFailure
		if inner == nil {
			inner = countsAsFailure
		}
		bc.IsFailure = func(err error) bool { return !final(err) && inner(err) }
	}
	g.members = append(g.members, member[T]{name: name, value: value, breaker: NewCircuitBreaker(bc)})
}

// Len returns the number of members.
func (g *Group[T]) Len() int { return len(g.members) }

// Names returns the member names in call order.
func (g *Group[T]) Names() []string {
	out := make([]string, len(g.members))
	for i, m := range g.members {
		out[i] = m.name
	}
	return out
}

// States reports every member's breaker state keyed by member name.
func (g *Group[T]) States() map[string]State {
	out := make(map[string]State, len(g.members))
	for _, m := range g.members {
		out[m.name] = m.breaker.State()
	}
	return out
}

// Primary returns the first member.
func (g *Group[T]) Primary() T { return g.members[0].value }

// Call runs fn against the group's members in order until one succeeds, the
// error is final or ctx is done. When no member succeeds the last error is
// returned wrapped in [ErrAllFailed].
func Call[T, R any](ctx context.Context, g *Group[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range g.members {
		m := &g.members[i]
		var out R
		err := m.breaker.Execute(func() error {
			var err error
			out, err = fn(ctx, m.value)
			return err
		})
		switch {
		case err == nil:
			g.cfg.Metrics.RecordProviderRequest(ctx, m.name, g.cfg.Kind, StatusOK)
			if i > 0 {
				slog.Debug("provider fallback answered", "kind", g.cfg.Kind, "provider", m.name)
			}
			return out, nil
		case errors.Is(err, ErrCircuitOpen):
			g.cfg.Metrics.RecordProviderRequest(ctx, m.name, g.cfg.Kind, StatusSkipped)
			slog.Debug("skipping provider with open circuit", "kind", g.cfg.Kind, "provider", m.name)
			lastErr = fmt.Errorf("%s: %w", m.name, err)
			continue
		}

		g.cfg.Metrics.RecordProviderRequest(ctx, m.name, g.cfg.Kind, StatusError)
		if g.cfg.Final != nil && g.cfg.Final(err) {
			return zero, err
		}
		g.cfg.Metrics.RecordProviderError(ctx, m.name, g.cfg.Kind)
		if ctx.Err() != nil {
			return zero, err
		}
		lastErr = fmt.Errorf("%s: %w", m.name, err)
		if i < len(g.members)-1 {
			slog.Warn("provider failed, trying next", "kind", g.cfg.Kind, "provider", m.name, "error", err)
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
