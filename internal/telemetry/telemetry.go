// Package telemetry wires OpenTelemetry metrics for the collector.
//
// Metrics are off unless OTEL_ENABLED=true. OTEL_STDOUT=true adds a periodic
// stdout exporter for local inspection and OTEL_EXPORTER_OTLP_ENDPOINT pushes
// to an OTLP/HTTP collector.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const scope = "github.com/BBVA/mirrorgate-jira-stories-collector"

// Init installs the global meter provider and returns its shutdown function.
func Init(ctx context.Context, cfg config.Config) (func(context.Context) error, error) {
	if !cfg.OTelEnabled {
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return func(context.Context) error { return nil }, nil
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.CollectorID),
			attribute.String("deployment.environment", cfg.AppEnv),
		),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource: %w", err)
	}
	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if cfg.OTelStdout {
		exp, err := stdoutmetric.New()
		if err != nil {
			return nil, fmt.Errorf("telemetry: stdout exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(30*time.Second)),
		))
	}
	if cfg.OTelEndpoint != "" {
		exp, err := otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpoint(cfg.OTelEndpoint),
			otlpmetrichttp.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("telemetry: otlp exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(30*time.Second)),
		))
	}
	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}

func Meter() metric.Meter { return otel.Meter(scope) }

// Instruments are the collector's run metrics.
type Instruments struct {
	Runs           metric.Int64Counter
	Pages          metric.Int64Counter
	IssuesUpserted metric.Int64Counter
	IssuesDeleted  metric.Int64Counter
	DriftedSprints metric.Int64Counter
	RunDuration    metric.Float64Histogram
}

func NewInstruments(m metric.Meter) (*Instruments, error) {
	var (
		in  Instruments
		err error
	)
	if in.Runs, err = m.Int64Counter("collector.runs",
		metric.WithDescription("Sync runs by outcome")); err != nil {
		return nil, err
	}
	if in.Pages, err = m.Int64Counter("collector.pages",
		metric.WithDescription("Non-empty issue pages processed")); err != nil {
		return nil, err
	}
	if in.IssuesUpserted, err = m.Int64Counter("collector.issues.upserted",
		metric.WithDescription("Issues pushed to the mirror")); err != nil {
		return nil, err
	}
	if in.IssuesDeleted, err = m.Int64Counter("collector.issues.deleted",
		metric.WithDescription("Issues removed from the mirror because the source no longer has them")); err != nil {
		return nil, err
	}
	if in.DriftedSprints, err = m.Int64Counter("collector.sprints.drifted",
		metric.WithDescription("Sprints found with membership drift")); err != nil {
		return nil, err
	}
	if in.RunDuration, err = m.Float64Histogram("collector.run.duration",
		metric.WithDescription("Full run duration"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return &in, nil
}

// Noop returns instruments that record nothing.
func Noop() *Instruments {
	in, _ := NewInstruments(metricnoop.NewMeterProvider().Meter(scope))
	return in
}
