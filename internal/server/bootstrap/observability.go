package bootstrap

import (
	"context"
	"time"

	"agentorch/internal/observability"
	"agentorch/internal/shared/config"
	"agentorch/internal/shared/logging"
)

// InitObservability best-effort initializes metrics and tracing and returns a
// cleanup hook. Failures disable the feature and are logged.
func InitObservability(settings config.Settings, logger logging.Logger) (*observability.MetricsCollector, func()) {
	logger = logging.OrNop(logger)

	metrics, err := observability.NewMetricsCollector(observability.MetricsConfig{Enabled: settings.MetricsEnabled})
	if err != nil {
		logger.Warn("Metrics disabled: %v", err)
		metrics = nil
	}

	tracer, err := observability.NewTracerProvider(observability.TracingConfig{
		Enabled:     settings.TracingEnabled,
		Exporter:    settings.TraceExporter,
		Endpoint:    settings.TraceEndpoint,
		SampleRate:  settings.TraceSampling,
		ServiceName: settings.AppName,
	})
	if err != nil {
		logger.Warn("Tracing disabled: %v", err)
		tracer = observability.NoopTracer()
	}

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(ctx); err != nil {
			logger.Warn("Tracer shutdown error: %v", err)
		}
		if err := metrics.Shutdown(ctx); err != nil {
			logger.Warn("Metrics shutdown error: %v", err)
		}
	}
	return metrics, cleanup
}
