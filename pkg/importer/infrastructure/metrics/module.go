package metrics

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/surfin-import/pkg/importer/core/config"
	"github.com/tigerroll/surfin-import/pkg/importer/core/metrics"
)

// ObservabilityResult is the output of NewObservability.
type ObservabilityResult struct {
	fx.Out
	Recorder  metrics.MetricRecorder
	Tracer    metrics.Tracer
	Telemetry *Telemetry
}

// NewObservability selects the recorder and tracer from configuration.
// Prometheus and OpenTelemetry recorders are combined behind one asynchronous recorder.
func NewObservability(lc fx.Lifecycle, cfg *config.Config) (ObservabilityResult, error) {
	telemetry, err := NewTelemetry(context.Background(), cfg.Importer.Telemetry)
	if err != nil {
		return ObservabilityResult{}, err
	}
	lc.Append(fx.Hook{OnStop: telemetry.Shutdown})

	var recorders metrics.MultiRecorder
	if cfg.Importer.Metrics.Enabled {
		prom := NewPrometheusRecorder()
		server := NewMetricsServer(cfg.Importer.Metrics.ListenAddress, prom.Handler())
		lc.Append(fx.Hook{OnStart: server.Start, OnStop: server.Stop})
		recorders = append(recorders, prom)
	}
	if telemetry.Enabled {
		otelRecorder, err := NewOpenTelemetryRecorder(telemetry.MeterProvider)
		if err != nil {
			return ObservabilityResult{}, err
		}
		recorders = append(recorders, otelRecorder)
	}

	result := ObservabilityResult{
		Recorder:  metrics.NewNoOpMetricRecorder(),
		Tracer:    NewOpenTelemetryTracer(telemetry.TracerProvider),
		Telemetry: telemetry,
	}
	if len(recorders) > 0 {
		async := NewAsyncMetricRecorder(0, recorders)
		// Registered after the exporters so it drains before they shut down.
		lc.Append(fx.Hook{OnStop: func(context.Context) error { async.Close(); return nil }})
		result.Recorder = async
	}
	return result, nil
}

// Module provides the MetricRecorder and Tracer used by the executors.
var Module = fx.Options(
	fx.Provide(NewObservability),
)
