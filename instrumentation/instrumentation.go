package instrumentation

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/giantswarm/mcp-authd"
)

// Instrumentation bundles the meter, tracer, and metric instruments used by
// the authorization server.
type Instrumentation struct {
	meter   metric.Meter
	tracer  trace.Tracer
	Metrics *Metrics
}

// New creates instrumentation backed by the global OpenTelemetry providers.
func New() (*Instrumentation, error) {
	meter := otel.Meter(instrumentationName)
	tracer := otel.Tracer(instrumentationName)

	metrics, err := newMetrics(meter)
	if err != nil {
		return nil, err
	}

	return &Instrumentation{
		meter:   meter,
		tracer:  tracer,
		Metrics: metrics,
	}, nil
}

// Tracer returns the tracer for creating spans.
func (i *Instrumentation) Tracer() trace.Tracer {
	if i == nil {
		return otel.Tracer(instrumentationName)
	}
	return i.tracer
}
