package resource

import (
	"context"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// InitMeterProvider installs a process-wide OpenTelemetry SDK MeterProvider
// and returns the *Metrics instrument set plus a shutdown function to call
// from main on exit. A manual reader is used rather than a push exporter:
// this pack declares no OTLP/Prometheus exporter dependency, so collection
// is exposed for in-process inspection (e.g. an admin/debug endpoint) rather
// than scraped externally.
func InitMeterProvider() (*Metrics, func(context.Context) error, error) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(mp)

	metrics, err := NewMetrics(mp)
	if err != nil {
		return nil, nil, err
	}
	return metrics, mp.Shutdown, nil
}
