package telemetry

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/steveyegge/backport/internal/tracker"
	"github.com/steveyegge/backport/internal/tracker/memory"
	"github.com/steveyegge/backport/internal/types"
)

func installTestProviders(t *testing.T) (*tracetest.SpanRecorder, *sdkmetric.ManualReader) {
	t.Helper()
	prevTP, prevMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
	})

	spans := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)))
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	return spans, reader
}

func sumOf(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is %T", name, m.Data)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestWrapTrackerDisabled(t *testing.T) {
	t.Setenv("BP_OTEL_ENABLED", "")
	mem := memory.New("ENTMQBR")
	assert.Same(t, tracker.IssueTracker(mem), WrapTracker(mem))
}

func TestWrapTrackerRecordsOperations(t *testing.T) {
	t.Setenv("BP_OTEL_ENABLED", "true")
	spans, reader := installTestProviders(t)

	mem := memory.New("ENTMQBR", &types.Issue{Key: "ENTMQBR-1", State: "New"})
	wrapped := WrapTracker(mem)
	require.IsType(t, &InstrumentedTracker{}, wrapped)

	ctx := context.Background()
	issue, err := wrapped.GetIssue(ctx, "ENTMQBR-1")
	require.NoError(t, err)
	require.NotNil(t, issue)
	require.NoError(t, wrapped.AddLabels(ctx, "ENTMQBR-1", "tested"))

	mem.Fail("TransitionTo", errors.New("workflow rejected"))
	require.Error(t, wrapped.TransitionTo(ctx, "ENTMQBR-1", "Ready for QE"))

	ended := spans.Ended()
	require.Len(t, ended, 3)
	assert.Equal(t, "tracker.GetIssue", ended[0].Name())
	assert.Equal(t, "tracker.AddLabels", ended[1].Name())
	assert.Equal(t, "tracker.TransitionTo", ended[2].Name())
	assert.Equal(t, codes.Error, ended[2].Status().Code)

	assert.Equal(t, int64(3), sumOf(t, reader, "bp.tracker.operations"))
	assert.Equal(t, int64(1), sumOf(t, reader, "bp.tracker.errors"))
	assert.Equal(t, []string{"AddLabels ENTMQBR-1 [tested]"}, mem.Calls())
}

func TestWrapTrackerUnwraps(t *testing.T) {
	t.Setenv("BP_OTEL_ENABLED", "true")
	installTestProviders(t)

	mem := memory.New("ENTMQBR")
	wrapped := WrapTracker(tracker.NewDryRun(mem, nil))

	dir, ok := tracker.As[tracker.UserDirectory](wrapped)
	require.True(t, ok)
	assert.Same(t, mem, dir)
}

func TestInitDisabledInstallsNoop(t *testing.T) {
	t.Setenv("BP_OTEL_ENABLED", "")
	require.NoError(t, Init(context.Background(), "bp", "test"))
	defer func() { _ = Shutdown(context.Background()) }()

	_, span := Tracer("").Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
}

func TestExportConfigFromEnv(t *testing.T) {
	t.Setenv("BP_OTEL_ENABLED", "true")
	t.Setenv("BP_OTEL_STDOUT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318")
	t.Setenv("OTEL_SERVICE_NAME", "")

	cfg := exportConfigFromEnv("bp")
	assert.True(t, cfg.enabled)
	assert.False(t, cfg.stdout)
	assert.Equal(t, "localhost:4318", cfg.metricsEndpoint)
	assert.Equal(t, "bp", cfg.serviceName)

	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "https://metrics.example.com/v1/metrics")
	t.Setenv("OTEL_SERVICE_NAME", "bp-nightly")
	cfg = exportConfigFromEnv("bp")
	assert.Equal(t, "https://metrics.example.com/v1/metrics", cfg.metricsEndpoint)
	assert.Equal(t, "bp-nightly", cfg.serviceName)
}

func TestInitStdoutExportsSpans(t *testing.T) {
	t.Setenv("BP_OTEL_ENABLED", "true")
	t.Setenv("BP_OTEL_STDOUT", "true")
	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	var buf bytes.Buffer
	saved := Output
	prevTP, prevMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	Output = &buf
	t.Cleanup(func() {
		Output = saved
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
	})

	require.NoError(t, Init(context.Background(), "bp", "test"))
	_, span := Tracer("").Start(context.Background(), "engine.Process")
	span.End()
	require.NoError(t, Shutdown(context.Background()))

	assert.Contains(t, buf.String(), "engine.Process")
}
