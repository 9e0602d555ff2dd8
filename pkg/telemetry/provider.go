package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig names the service for the resource attributes attached to
// every exported metric.
type ProviderConfig struct {
	ServiceName    string
	ServiceVersion string
}

// InitProvider builds a MeterProvider backed by a Prometheus exporter and
// installs it as the global provider, mirroring the teacher pack's
// InitProvider shape but metrics-only: this module has no span exporter
// dependency, so the tracing half of that pattern is omitted rather than
// hand-rolled (see DESIGN.md).
//
// The returned shutdown func should run during server teardown; the
// Prometheus exporter itself registers against the default Prometheus
// registry and is scraped through promhttp, not through the return value.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "voxbridge"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: building resource: %w", err)
	}

	promExp, err := promexporter.New()
	if err != nil {
		return nil, fmt.Errorf("telemetry: creating prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)
	otel.SetMeterProvider(mp)

	return mp.Shutdown, nil
}
