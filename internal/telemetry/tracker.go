package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/steveyegge/backport/internal/tracker"
	"github.com/steveyegge/backport/internal/types"
)

const trackerScopeName = "github.com/steveyegge/backport/tracker"

// InstrumentedTracker wraps a tracker.IssueTracker with OTel tracing and
// metrics. Every remote operation gets a span and is counted in
// bp.tracker.* metrics. Use WrapTracker to create one.
type InstrumentedTracker struct {
	inner  tracker.IssueTracker
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

// WrapTracker returns t decorated with OTel instrumentation.
// When telemetry is disabled, t is returned as-is.
func WrapTracker(t tracker.IssueTracker) tracker.IssueTracker {
	if !Enabled() {
		return t
	}
	return newInstrumentedTracker(t)
}

func newInstrumentedTracker(t tracker.IssueTracker) *InstrumentedTracker {
	m := Meter(trackerScopeName)
	ops, _ := m.Int64Counter("bp.tracker.operations",
		metric.WithDescription("Total issue tracker operations executed"),
	)
	dur, _ := m.Float64Histogram("bp.tracker.operation.duration",
		metric.WithDescription("Issue tracker operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("bp.tracker.errors",
		metric.WithDescription("Total issue tracker operation errors"),
	)
	return &InstrumentedTracker{
		inner:  t,
		tracer: Tracer(trackerScopeName),
		ops:    ops,
		dur:    dur,
		errs:   errs,
	}
}

// Unwrap returns the wrapped tracker.
func (s *InstrumentedTracker) Unwrap() tracker.IssueTracker { return s.inner }

// op starts a span and counts the named tracker operation.
func (s *InstrumentedTracker) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{
		attribute.String("bp.tracker", s.inner.Name()),
		attribute.String("bp.tracker.operation", name),
	}, attrs...)
	ctx, span := s.tracer.Start(ctx, "tracker."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all[:2]...))
	return ctx, span, time.Now()
}

// done ends the span, records duration and optional error.
func (s *InstrumentedTracker) done(ctx context.Context, span trace.Span, start time.Time, name string, err error) {
	attrs := metric.WithAttributes(
		attribute.String("bp.tracker", s.inner.Name()),
		attribute.String("bp.tracker.operation", name),
	)
	s.dur.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, attrs)
	}
	span.End()
}

func (s *InstrumentedTracker) Name() string { return s.inner.Name() }

func (s *InstrumentedTracker) ParseIssueKeys(text string) []string {
	return s.inner.ParseIssueKeys(text)
}

func (s *InstrumentedTracker) StateIndex(state string) (int, error) {
	return s.inner.StateIndex(state)
}

func (s *InstrumentedTracker) GetIssue(ctx context.Context, key string) (*types.Issue, error) {
	ctx, span, t := s.op(ctx, "GetIssue", attribute.String("bp.issue.key", key))
	v, err := s.inner.GetIssue(ctx, key)
	s.done(ctx, span, t, "GetIssue", err)
	return v, err
}

func (s *InstrumentedTracker) LinkedIssues(ctx context.Context, upstreamKey string) ([]string, error) {
	ctx, span, t := s.op(ctx, "LinkedIssues", attribute.String("bp.issue.key", upstreamKey))
	v, err := s.inner.LinkedIssues(ctx, upstreamKey)
	span.SetAttributes(attribute.Int("bp.issue.count", len(v)))
	s.done(ctx, span, t, "LinkedIssues", err)
	return v, err
}

func (s *InstrumentedTracker) AddLabels(ctx context.Context, key string, labels ...string) error {
	ctx, span, t := s.op(ctx, "AddLabels",
		attribute.String("bp.issue.key", key),
		attribute.StringSlice("bp.labels", labels),
	)
	err := s.inner.AddLabels(ctx, key, labels...)
	s.done(ctx, span, t, "AddLabels", err)
	return err
}

func (s *InstrumentedTracker) AddUpstreamLinks(ctx context.Context, key string, links ...string) error {
	ctx, span, t := s.op(ctx, "AddUpstreamLinks", attribute.String("bp.issue.key", key))
	err := s.inner.AddUpstreamLinks(ctx, key, links...)
	s.done(ctx, span, t, "AddUpstreamLinks", err)
	return err
}

func (s *InstrumentedTracker) SetTargetRelease(ctx context.Context, key, release string) error {
	ctx, span, t := s.op(ctx, "SetTargetRelease",
		attribute.String("bp.issue.key", key),
		attribute.String("bp.release", release),
	)
	err := s.inner.SetTargetRelease(ctx, key, release)
	s.done(ctx, span, t, "SetTargetRelease", err)
	return err
}

func (s *InstrumentedTracker) TransitionTo(ctx context.Context, key, state string) error {
	ctx, span, t := s.op(ctx, "TransitionTo",
		attribute.String("bp.issue.key", key),
		attribute.String("bp.issue.state", state),
	)
	err := s.inner.TransitionTo(ctx, key, state)
	s.done(ctx, span, t, "TransitionTo", err)
	return err
}

func (s *InstrumentedTracker) CreateIssue(ctx context.Context, req tracker.CreateRequest) (*types.Issue, error) {
	ctx, span, t := s.op(ctx, "CreateIssue",
		attribute.String("bp.issue.type", string(req.Type)),
		attribute.String("bp.release", req.TargetRelease),
	)
	v, err := s.inner.CreateIssue(ctx, req)
	if v != nil {
		span.SetAttributes(attribute.String("bp.issue.key", v.Key))
	}
	s.done(ctx, span, t, "CreateIssue", err)
	return v, err
}

func (s *InstrumentedTracker) LinkIssues(ctx context.Context, from, to, linkType string) error {
	ctx, span, t := s.op(ctx, "LinkIssues",
		attribute.String("bp.issue.key", from),
		attribute.String("bp.link.target", to),
		attribute.String("bp.link.type", linkType),
	)
	err := s.inner.LinkIssues(ctx, from, to, linkType)
	s.done(ctx, span, t, "LinkIssues", err)
	return err
}
