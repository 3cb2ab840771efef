package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/agentimmune/control-plane/pkg/orchestrator"
)

// Metrics is a thin adapter over OpenTelemetry metrics instruments,
// lazily creating and caching each by name the first time it's recorded.
type Metrics struct {
	meter metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
}

// NewMetrics constructs a Metrics adapter using the global meter provider
// (installed by Setup, or the OpenTelemetry no-op default when telemetry
// is disabled — in which case every recorded point is silently dropped).
func NewMetrics() *Metrics {
	return &Metrics{
		meter:      otel.Meter("orchestrator"),
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

// RecordTickDuration records one orchestrator.Tick pass's wall-clock cost.
func (m *Metrics) RecordTickDuration(d time.Duration) {
	h, ok := m.histogram("orchestrator.tick.duration_ms")
	if !ok {
		return
	}
	h.Record(context.Background(), float64(d.Milliseconds()))
}

// Observe translates one orchestrator.Event into a named counter
// increment, so fleet-wide anomaly/healing activity is visible without
// a dashboard connection (§6 ambient observability).
func (m *Metrics) Observe(ev orchestrator.Event) {
	c, ok := m.counter("orchestrator.events." + ev.Kind)
	if !ok {
		return
	}
	c.Add(context.Background(), 1)
}

func (m *Metrics) counter(name string) (metric.Int64Counter, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.counters[name]; ok {
		return c, true
	}
	c, err := m.meter.Int64Counter(name)
	if err != nil {
		return c, false
	}
	m.counters[name] = c
	return c, true
}

func (m *Metrics) histogram(name string) (metric.Float64Histogram, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.histograms[name]; ok {
		return h, true
	}
	h, err := m.meter.Float64Histogram(name)
	if err != nil {
		return h, false
	}
	m.histograms[name] = h
	return h, true
}
