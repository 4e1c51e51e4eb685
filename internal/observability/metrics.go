package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsConfig configures the metrics collector
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsCollector records tool, LLM and run metrics and serves them in the
// Prometheus exposition format. A nil or disabled collector is a no-op.
type MetricsCollector struct {
	provider *sdkmetric.MeterProvider
	registry *promclient.Registry

	toolAttempts   metric.Int64Counter
	toolExecutions metric.Int64Counter
	toolDuration   metric.Float64Histogram
	llmRequests    metric.Int64Counter
	llmLatency     metric.Float64Histogram
	runs           metric.Int64Counter
	runRetries     metric.Int64Histogram
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	registry := promclient.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("agentorch")

	m := &MetricsCollector{provider: provider, registry: registry}
	if m.toolAttempts, err = meter.Int64Counter("agentorch.tool.attempts",
		metric.WithDescription("Tool invocation attempts by outcome"),
		metric.WithUnit("{attempt}")); err != nil {
		return nil, fmt.Errorf("failed to create tool_attempts counter: %w", err)
	}
	if m.toolExecutions, err = meter.Int64Counter("agentorch.tool.executions",
		metric.WithDescription("Gateway executions by final status"),
		metric.WithUnit("{execution}")); err != nil {
		return nil, fmt.Errorf("failed to create tool_executions counter: %w", err)
	}
	if m.toolDuration, err = meter.Float64Histogram("agentorch.tool.duration",
		metric.WithDescription("Gateway execution duration including retries"),
		metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("failed to create tool_duration histogram: %w", err)
	}
	if m.llmRequests, err = meter.Int64Counter("agentorch.llm.requests",
		metric.WithDescription("Structured completion requests"),
		metric.WithUnit("{request}")); err != nil {
		return nil, fmt.Errorf("failed to create llm_requests counter: %w", err)
	}
	if m.llmLatency, err = meter.Float64Histogram("agentorch.llm.latency",
		metric.WithDescription("Structured completion latency"),
		metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("failed to create llm_latency histogram: %w", err)
	}
	if m.runs, err = meter.Int64Counter("agentorch.runs",
		metric.WithDescription("Orchestrator runs by verification outcome"),
		metric.WithUnit("{run}")); err != nil {
		return nil, fmt.Errorf("failed to create runs counter: %w", err)
	}
	if m.runRetries, err = meter.Int64Histogram("agentorch.run.retries",
		metric.WithDescription("Retry count consumed per run"),
		metric.WithUnit("{retry}")); err != nil {
		return nil, fmt.Errorf("failed to create run_retries histogram: %w", err)
	}
	return m, nil
}

func (m *MetricsCollector) enabled() bool {
	return m != nil && m.provider != nil
}

// Handler serves the Prometheus scrape endpoint.
func (m *MetricsCollector) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes the meter provider
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if !m.enabled() {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// RecordToolAttempt records a single gateway attempt.
func (m *MetricsCollector) RecordToolAttempt(ctx context.Context, tool, outcome string) {
	if !m.enabled() {
		return
	}
	m.toolAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("outcome", outcome),
	))
}

// RecordToolExecution records the final gateway outcome for a tool.
func (m *MetricsCollector) RecordToolExecution(ctx context.Context, tool, status, implementation string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
		attribute.String("implementation", implementation),
	)
	m.toolExecutions.Add(ctx, 1, attrs)
	m.toolDuration.Record(ctx, float64(duration.Microseconds())/1000.0, attrs)
}

// RecordLLMRequest records a completion request.
func (m *MetricsCollector) RecordLLMRequest(ctx context.Context, model, status string, latency time.Duration) {
	if !m.enabled() {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("status", status),
	)
	m.llmRequests.Add(ctx, 1, attrs)
	m.llmLatency.Record(ctx, float64(latency.Microseconds())/1000.0, attrs)
}

// RecordRun records a finished orchestrator run.
func (m *MetricsCollector) RecordRun(ctx context.Context, passed bool, retries int) {
	if !m.enabled() {
		return
	}
	m.runs.Add(ctx, 1, metric.WithAttributes(attribute.Bool("passed", passed)))
	m.runRetries.Record(ctx, int64(retries))
}
