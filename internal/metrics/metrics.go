// Package metrics exposes OpenTelemetry instruments for the clustering pipeline.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/thebtf/incident-cluster/pkg/clustering"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName identifies the meter used by this service.
const InstrumentationName = "github.com/thebtf/incident-cluster"

// Transport values for the transport attribute.
const (
	TransportHTTP   = "http"
	TransportStream = "stream"
)

// Instruments holds the counters and histograms recorded per pipeline run.
type Instruments struct {
	requests metric.Int64Counter
	items    metric.Int64Counter
	invalid  metric.Int64Counter
	accepted metric.Int64Counter
	rejected metric.Int64Counter
	noise    metric.Int64Counter
	duration metric.Float64Histogram
}

// Default creates instruments on the global meter provider.
// Without an installed provider the global one is a no-op.
func Default() (*Instruments, error) {
	return New(otel.Meter(InstrumentationName))
}

// New creates instruments on the given meter.
func New(meter metric.Meter) (*Instruments, error) {
	var ins Instruments
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&ins.requests, "cluster.requests", "Clustering runs"},
		{&ins.items, "cluster.items", "Items received"},
		{&ins.invalid, "cluster.invalid_items", "Items rejected by validation"},
		{&ins.accepted, "cluster.accepted", "Clusters that passed the diversity check"},
		{&ins.rejected, "cluster.rejected", "Clusters demoted to noise"},
		{&ins.noise, "cluster.noise", "Items reported as noise"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", c.name, err)
		}
	}

	ins.duration, err = meter.Float64Histogram("cluster.duration",
		metric.WithDescription("Pipeline wall time"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create cluster.duration: %w", err)
	}

	return &ins, nil
}

// Record adds the stats of one pipeline run.
func (ins *Instruments) Record(ctx context.Context, stats clustering.Stats, elapsed time.Duration, transport string) {
	if ins == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("transport", transport))

	ins.requests.Add(ctx, 1, attrs)
	ins.items.Add(ctx, int64(stats.Items), attrs)
	ins.invalid.Add(ctx, int64(stats.Invalid), attrs)
	ins.accepted.Add(ctx, int64(stats.Accepted), attrs)
	ins.rejected.Add(ctx, int64(stats.Rejected), attrs)
	ins.noise.Add(ctx, int64(stats.Noise), attrs)
	ins.duration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
}
