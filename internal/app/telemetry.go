package app

import (
	"context"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/one-ui/control-plane/internal/adapter/outbound/snapshotstore"
)

// telemetry owns the process-wide tracer/meter providers the apply engine
// and update coordinator resolve via otel.Tracer(...), plus the Prometheus
// registry their counters/histograms/gauges register against. In dev mode
// spans and metric collections are additionally written to stdout; outside
// dev mode the providers still run (so Apply/Rollback/canary spans and the
// snapshot-count gauge are always live) but export into io.Discard, since
// there is no metrics/trace exposition endpoint in scope for this build.
type telemetry struct {
	Registry *prometheus.Registry

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
}

func setupTelemetry(devMode bool) (*telemetry, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(attribute.String("service.name", "one-ui-control-plane")),
	)
	if err != nil {
		return nil, err
	}

	writer := io.Discard
	pretty := false
	if devMode {
		writer = os.Stdout
		pretty = true
	}

	traceOpts := []stdouttrace.Option{stdouttrace.WithWriter(writer)}
	if pretty {
		traceOpts = append(traceOpts, stdouttrace.WithPrettyPrint())
	}
	traceExporter, err := stdouttrace.New(traceOpts...)
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter),
	)
	otel.SetTracerProvider(tp)

	metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(writer))
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
	)
	otel.SetMeterProvider(mp)

	return &telemetry{
		Registry:       prometheus.NewRegistry(),
		tracerProvider: tp,
		meterProvider:  mp,
	}, nil
}

// registerSnapshotGauge observes the snapshot store's current count on
// every meter collection, the one otel-metric instrument this build keeps
// (everything else goes through Prometheus counters/histograms directly).
func (t *telemetry) registerSnapshotGauge(store *snapshotstore.Store) error {
	meter := t.meterProvider.Meter("one-ui/applyengine")
	_, err := meter.Int64ObservableGauge(
		"one_ui_snapshot_count",
		metric.WithDescription("Number of config snapshots currently retained."),
		metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
			snapshots, err := store.List()
			if err != nil {
				return err
			}
			obs.Observe(int64(len(snapshots)))
			return nil
		}),
	)
	return err
}

func (t *telemetry) shutdown(ctx context.Context) error {
	if err := t.tracerProvider.Shutdown(ctx); err != nil {
		return err
	}
	return t.meterProvider.Shutdown(ctx)
}
