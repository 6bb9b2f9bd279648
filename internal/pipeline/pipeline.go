package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/rentgw/internal/apierror"
)

var tracer = otel.Tracer("rentgw/pipeline")

// Stage is one admission step. A non-nil error stops the pipeline and is
// handed unchanged to the error transformer.
type Stage interface {
	Name() string
	Run(ctx context.Context, rc *RequestContext) error
}

// Func adapts a function to a Stage.
type Func func(ctx context.Context, rc *RequestContext) error

type funcStage struct {
	name string
	fn   Func
}

// NewStage creates a named stage from fn.
func NewStage(name string, fn Func) Stage {
	return &funcStage{name: name, fn: fn}
}

func (s *funcStage) Name() string { return s.name }

func (s *funcStage) Run(ctx context.Context, rc *RequestContext) error {
	return s.fn(ctx, rc)
}

// Pipeline runs stages strictly in order.
type Pipeline struct {
	stages  []Stage
	metrics *Metrics
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics sets the metrics.
func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// New creates a pipeline of stages.
func New(stages []Stage, opts ...Option) *Pipeline {
	p := &Pipeline{stages: append([]Stage(nil), stages...)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Stages returns the stage names in order.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// Run executes the stages. It stops at the first error or when ctx ends.
func (p *Pipeline) Run(ctx context.Context, rc *RequestContext) error {
	for _, s := range p.stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.runStage(ctx, s, rc); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) runStage(ctx context.Context, s Stage, rc *RequestContext) error {
	ctx, span := tracer.Start(ctx, "pipeline."+s.Name(),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("pipeline.stage", s.Name()),
			attribute.String("correlation_id", rc.CorrelationID),
		),
	)
	defer span.End()

	start := time.Now()
	err := s.Run(ctx, rc)
	p.metrics.observe(s.Name(), err, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apierror.KindOf(err).Code())
	}
	return err
}
