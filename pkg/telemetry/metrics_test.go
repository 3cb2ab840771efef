package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/agentimmune/control-plane/pkg/orchestrator"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	prev := otel.GetMeterProvider()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(mp)
	t.Cleanup(func() { otel.SetMeterProvider(prev) })
	return NewMetrics(), reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func findMetricNames(rm metricdata.ResourceMetrics) []string {
	var names []string
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names = append(names, m.Name)
		}
	}
	return names
}

func TestMetrics_ObserveRecordsCounterPerEventKind(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.Observe(orchestrator.Event{Kind: "quarantined", AgentID: "worker-1"})
	m.Observe(orchestrator.Event{Kind: "quarantined", AgentID: "worker-2"})
	m.Observe(orchestrator.Event{Kind: "healed", AgentID: "worker-1"})

	rm := collect(t, reader)
	names := findMetricNames(rm)
	assert.Contains(t, names, "orchestrator.events.quarantined")
	assert.Contains(t, names, "orchestrator.events.healed")
}

func TestMetrics_RecordTickDurationRecordsHistogram(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.RecordTickDuration(5 * time.Millisecond)

	rm := collect(t, reader)
	assert.Contains(t, findMetricNames(rm), "orchestrator.tick.duration_ms")
}

func TestMetrics_InstrumentsAreCachedAcrossCalls(t *testing.T) {
	m := NewMetrics()

	c1, ok1 := m.counter("test.counter")
	require.True(t, ok1)
	c2, ok2 := m.counter("test.counter")
	require.True(t, ok2)
	assert.Equal(t, c1, c2)
}
