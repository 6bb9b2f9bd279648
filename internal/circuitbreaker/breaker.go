package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/rentgw/internal/apierror"
	"github.com/vyrodovalexey/rentgw/internal/observability"
)

var cbTracer = otel.Tracer("rentgw/circuitbreaker")

// callerGoneError marks a call abandoned because the caller's context ended.
// It is not a downstream failure.
type callerGoneError struct {
	err error
}

func (e *callerGoneError) Error() string {
	return "caller gone: " + e.err.Error()
}

func (e *callerGoneError) Unwrap() error {
	return e.err
}

// Breaker guards one downstream target.
type Breaker struct {
	target   string
	cfg      Config
	cb       *gobreaker.TwoStepCircuitBreaker
	logger   observability.Logger
	metrics  *Metrics
	events   *EventBus
	openedAt atomic.Int64
}

func newBreaker(target string, cfg Config, logger observability.Logger, metrics *Metrics, events *EventBus) *Breaker {
	b := &Breaker{
		target:  target,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		events:  events,
	}

	volume := safeUint32(cfg.VolumeThreshold)
	threshold := cfg.ErrorThresholdPercent

	b.cb = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        target,
		MaxRequests: safeUint32(cfg.HalfOpenMaxRequests),
		Interval:    cfg.RollingWindow,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			reported := counts.TotalSuccesses + counts.TotalFailures
			if reported < volume {
				return false
			}
			rate := float64(counts.TotalFailures) * 100 / float64(reported)
			return rate > threshold
		},
		OnStateChange: b.onStateChange,
	})

	metrics.recordState(target, StateClosed)
	return b
}

// onStateChange runs under the gobreaker lock and must not block.
func (b *Breaker) onStateChange(name string, from, to gobreaker.State) {
	now := time.Now()
	f, t := fromGobreaker(from), fromGobreaker(to)

	if t == StateOpen {
		b.openedAt.Store(now.UnixNano())
	}

	b.metrics.recordTransition(name, f, t)

	fields := []observability.Field{
		observability.String("target", name),
		observability.String("from", f.String()),
		observability.String("to", t.String()),
	}
	if t == StateOpen {
		b.logger.Warn("circuit breaker opened", fields...)
	} else {
		b.logger.Info("circuit breaker state change", fields...)
	}

	_, span := cbTracer.Start(context.Background(),
		"circuitbreaker.state_change",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.AddEvent(string(eventFor(t)), trace.WithAttributes(
		attribute.String("circuitbreaker.target", name),
		attribute.String("circuitbreaker.from", f.String()),
		attribute.String("circuitbreaker.to", t.String()),
	))
	span.End()

	b.events.Publish(Event{
		Type:   eventFor(t),
		Target: name,
		From:   f,
		To:     t,
		At:     now,
	})
}

// Target returns the target name.
func (b *Breaker) Target() string {
	return b.target
}

// Config returns the breaker settings.
func (b *Breaker) Config() Config {
	return b.cfg
}

// State returns the current state.
func (b *Breaker) State() State {
	return fromGobreaker(b.cb.State())
}

// Snapshot returns the current state and counters.
func (b *Breaker) Snapshot() Snapshot {
	state := b.State()
	counts := b.cb.Counts()

	s := Snapshot{
		Target:                b.target,
		State:                 state.String(),
		Requests:              counts.TotalSuccesses + counts.TotalFailures,
		Failures:              counts.TotalFailures,
		ConsecutiveFailures:   counts.ConsecutiveFailures,
		ResetTimeout:          b.cfg.ResetTimeout.String(),
		ErrorThresholdPercent: b.cfg.ErrorThresholdPercent,
	}
	if state != StateClosed {
		if ns := b.openedAt.Load(); ns != 0 {
			s.OpenedAt = time.Unix(0, ns)
		}
	}
	return s
}

// Execute runs fn under the breaker.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	_, err := Call(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Call runs fn under breaker b and returns its result.
//
// An open breaker fails fast with CircuitOpen without calling fn. A call that
// outlives CallTimeout is abandoned: its context is cancelled and
// UpstreamTimeout is returned at once. The result of a failed call is still
// returned so callers can relay a downstream response.
func Call[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	if err := ctx.Err(); err != nil {
		return zero, err
	}

	done, err := b.cb.Allow()
	if err != nil {
		b.metrics.recordCall(b.target, resultRejected)
		return zero, apierror.CircuitOpen(b.target, apierror.ReasonTargetUnavailable, err)
	}

	res, err := b.run(ctx, func(ctx context.Context) (interface{}, error) {
		return fn(ctx)
	})
	b.report(done, err)

	v, _ := res.(T)
	if err == nil {
		b.metrics.recordCall(b.target, resultSuccess)
		return v, nil
	}

	var gone *callerGoneError
	if errors.As(err, &gone) {
		b.metrics.recordCall(b.target, resultCanceled)
		return v, gone.err
	}

	if errors.Is(err, apierror.ErrUpstreamTimeout) {
		b.metrics.recordCall(b.target, resultTimeout)
	} else {
		b.metrics.recordCall(b.target, resultFailure)
	}
	return v, err
}

// report settles an admitted call with the breaker. A call the caller
// abandoned says nothing about the target and is left out of the counts,
// except that a half-open trial without a verdict reopens the breaker so it
// never closes without a downstream success.
func (b *Breaker) report(done func(success bool), err error) {
	var gone *callerGoneError
	switch {
	case err == nil:
		done(true)
	case errors.As(err, &gone):
		if b.cb.State() == gobreaker.StateHalfOpen {
			done(false)
		}
	default:
		done(false)
	}
}

type outcome struct {
	value interface{}
	err   error
}

// run calls fn on its own goroutine bounded by CallTimeout.
func (b *Breaker) run(ctx context.Context, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if b.cfg.CallTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, b.cfg.CallTimeout)
	}
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: apierror.Internal(fmt.Errorf("panic calling %s: %v", b.target, p))}
			}
		}()
		v, err := fn(callCtx)
		done <- outcome{value: v, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && callCtx.Err() != nil {
			return o.value, b.classify(ctx, callCtx, o.err)
		}
		return o.value, o.err
	case <-callCtx.Done():
		return nil, b.classify(ctx, callCtx, callCtx.Err())
	}
}

// classify attributes a context-related failure to the caller or to the
// breaker's own deadline.
func (b *Breaker) classify(parent, callCtx context.Context, err error) error {
	if parentErr := parent.Err(); parentErr != nil {
		return &callerGoneError{err: parentErr}
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		b.logger.Warn("downstream call timed out",
			observability.String("target", b.target),
			observability.Duration("timeout", b.cfg.CallTimeout),
		)
		return apierror.UpstreamTimeout(b.target, err)
	}
	return err
}
