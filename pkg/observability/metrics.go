package observability

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the metric instruments recorded by the projection runtime.
type Metrics struct {
	// EventsApplied counts events successfully applied, per projection.
	EventsApplied metric.Int64Counter

	// HandlerErrors counts projection handler failures.
	HandlerErrors metric.Int64Counter

	// CheckpointFailures counts failed checkpoint writes. These are
	// infrastructure failures, kept separate from handler errors so
	// operators can tell a broken projection from a broken store.
	CheckpointFailures metric.Int64Counter

	// CycleDuration measures one full scheduler pass in seconds.
	CycleDuration metric.Float64Histogram

	// Position records the checkpoint position per projection.
	Position metric.Int64Gauge
}

// NewMetrics creates all metric instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.EventsApplied, err = meter.Int64Counter(
		"projection.events.applied",
		metric.WithDescription("Events successfully applied to projections"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating events.applied: %w", err)
	}

	m.HandlerErrors, err = meter.Int64Counter(
		"projection.handler.errors",
		metric.WithDescription("Projection handler failures"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating handler.errors: %w", err)
	}

	m.CheckpointFailures, err = meter.Int64Counter(
		"projection.checkpoint.failures",
		metric.WithDescription("Failed checkpoint persistence attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating checkpoint.failures: %w", err)
	}

	m.CycleDuration, err = meter.Float64Histogram(
		"projection.cycle.duration",
		metric.WithDescription("Scheduler cycle duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating cycle.duration: %w", err)
	}

	m.Position, err = meter.Int64Gauge(
		"projection.position",
		metric.WithDescription("Last processed event position per projection"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating position: %w", err)
	}

	return m, nil
}
