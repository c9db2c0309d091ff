package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// InitMetrics initializes the OpenTelemetry metrics provider with a
// Prometheus exporter. It returns the HTTP handler for the /metrics
// endpoint and a shutdown function. The shutdown function should be called
// on application exit for graceful cleanup.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)

	otel.SetMeterProvider(provider)

	return promhttp.Handler(), provider.Shutdown, nil
}

// DispatchMetrics counts the scheduler's per-job events. A nil receiver is
// a no-op, so tests can run the scheduler without a meter provider.
type DispatchMetrics struct {
	attempts       metric.Int64Counter
	dispositions   metric.Int64Counter
	claimConflicts metric.Int64Counter
	quarantined    metric.Int64Counter
}

// NewDispatchMetrics registers the dispatch counters on the global meter
// provider.
func NewDispatchMetrics() (*DispatchMetrics, error) {
	meter := otel.Meter("callspool/dispatch")

	attempts, err := meter.Int64Counter("callspool.attempts",
		metric.WithDescription("Origination attempts, by classified outcome"))
	if err != nil {
		return nil, err
	}
	dispositions, err := meter.Int64Counter("callspool.dispositions",
		metric.WithDescription("Jobs moved between bins, by disposition"))
	if err != nil {
		return nil, err
	}
	claimConflicts, err := meter.Int64Counter("callspool.claim_conflicts",
		metric.WithDescription("Claims lost to a concurrent scheduler"))
	if err != nil {
		return nil, err
	}
	quarantined, err := meter.Int64Counter("callspool.quarantined",
		metric.WithDescription("Undecodable job files moved to the failed bin"))
	if err != nil {
		return nil, err
	}

	return &DispatchMetrics{
		attempts:       attempts,
		dispositions:   dispositions,
		claimConflicts: claimConflicts,
		quarantined:    quarantined,
	}, nil
}

// RecordAttempt counts one completed origination attempt.
func (m *DispatchMetrics) RecordAttempt(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordDisposition counts one applied retry-policy decision.
func (m *DispatchMetrics) RecordDisposition(ctx context.Context, disposition string) {
	if m == nil {
		return
	}
	m.dispositions.Add(ctx, 1, metric.WithAttributes(attribute.String("disposition", disposition)))
}

// RecordClaimConflict counts one lost claim race.
func (m *DispatchMetrics) RecordClaimConflict(ctx context.Context) {
	if m == nil {
		return
	}
	m.claimConflicts.Add(ctx, 1)
}

// RecordQuarantine counts one poison-pill job moved aside.
func (m *DispatchMetrics) RecordQuarantine(ctx context.Context) {
	if m == nil {
		return
	}
	m.quarantined.Add(ctx, 1)
}
