package toolregistry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"agentorch/internal/domain/task"
	"agentorch/internal/observability"
	jsonx "agentorch/internal/shared/json"
	"agentorch/internal/shared/logging"

	"go.opentelemetry.io/otel/attribute"
)

// GatewayConfig bounds each tool invocation.
type GatewayConfig struct {
	// Timeout is the per-attempt wall-clock bound. Zero disables it.
	Timeout time.Duration
	// MaxRetries is the number of attempts after the first.
	MaxRetries int
	// Backoff is the fixed sleep between attempts.
	Backoff time.Duration
}

// MetricsRecorder receives per-attempt and per-execution outcomes.
type MetricsRecorder interface {
	RecordToolAttempt(ctx context.Context, tool, outcome string)
	RecordToolExecution(ctx context.Context, tool, status, implementation string, duration time.Duration)
}

// Execution is the outcome of Gateway.Execute.
type Execution struct {
	Status         task.ResultStatus   `json:"status"`
	Output         map[string]any      `json:"output,omitempty"`
	Error          string              `json:"error,omitempty"`
	Implementation task.Implementation `json:"implementation"`
	Attempts       int                 `json:"attempts"`
	DurationMs     float64             `json:"duration_ms"`
}

// ToolResult converts the execution into the record stored on the task state.
func (e Execution) ToolResult() task.ToolResult {
	return task.ToolResult{
		Status:         e.Status,
		Output:         e.Output,
		Error:          e.Error,
		Implementation: e.Implementation,
		Attempts:       e.Attempts,
		DurationMs:     e.DurationMs,
	}
}

// Gateway validates and invokes registry tools under a timeout and a bounded
// retry budget.
type Gateway struct {
	registry *Registry
	config   GatewayConfig
	logger   logging.Logger
	metrics  MetricsRecorder
}

// GatewayOption customises a Gateway.
type GatewayOption func(*Gateway)

// WithLogger sets the gateway logger.
func WithLogger(logger logging.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = logging.OrNop(logger) }
}

// WithMetrics records attempt and execution outcomes.
func WithMetrics(metrics MetricsRecorder) GatewayOption {
	return func(g *Gateway) { g.metrics = metrics }
}

// NewGateway creates a gateway over registry.
func NewGateway(registry *Registry, config GatewayConfig, opts ...GatewayOption) *Gateway {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	g := &Gateway{
		registry: registry,
		config:   config,
		logger:   logging.NewComponentLogger("ToolGateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Registry returns the registry the gateway executes against.
func (g *Gateway) Registry() *Registry {
	return g.registry
}

// Execute runs toolName with args. It never returns an error: every failure
// is reported in the Execution.
func (g *Gateway) Execute(ctx context.Context, toolName string, args map[string]any) Execution {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, observability.SpanToolExecute, observability.ToolAttrs(toolName)...)

	exec := g.execute(ctx, toolName, args, start)

	span.SetAttributes(
		attribute.String(observability.AttrStatus, string(exec.Status)),
		attribute.Int(observability.AttrAttempts, exec.Attempts),
	)
	var spanErr error
	if exec.Status == task.ResultFailed {
		spanErr = errors.New(exec.Error)
	}
	observability.EndSpan(span, spanErr)

	if g.metrics != nil {
		g.metrics.RecordToolExecution(ctx, toolName, string(exec.Status), string(exec.Implementation), time.Since(start))
	}
	return exec
}

func (g *Gateway) execute(ctx context.Context, toolName string, args map[string]any, start time.Time) Execution {
	spec, ok := g.registry.Get(toolName)
	if !ok {
		g.recordAttempt(ctx, toolName, "unknown")
		return Execution{
			Status:         task.ResultFailed,
			Error:          fmt.Sprintf("unknown tool: %s", toolName),
			Implementation: task.ImplementationDeterministic,
			Attempts:       1,
			DurationMs:     elapsedMs(start),
		}
	}

	maxAttempts := g.config.MaxRetries + 1
	attempts := 0
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		output, err := g.attempt(ctx, spec, args)
		if err == nil {
			g.recordAttempt(ctx, toolName, "ok")
			return Execution{
				Status:         task.ResultOK,
				Output:         output,
				Implementation: spec.Implementation,
				Attempts:       attempts,
				DurationMs:     elapsedMs(start),
			}
		}
		lastErr = err
		g.recordAttempt(ctx, toolName, "failed")
		g.logger.Debug("tool %s attempt %d/%d failed: %v", toolName, attempt, maxAttempts, err)

		if attempt >= maxAttempts || ctx.Err() != nil {
			break
		}
		if !sleepBackoff(ctx, g.config.Backoff) {
			break
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("tool '%s' failed", toolName)
	}
	g.logger.Warn("tool %s failed after %d attempt(s): %v", toolName, attempts, lastErr)
	return Execution{
		Status:         task.ResultFailed,
		Error:          lastErr.Error(),
		Implementation: spec.Implementation,
		Attempts:       attempts,
		DurationMs:     elapsedMs(start),
	}
}

// attempt validates input, invokes the tool and validates its output.
func (g *Gateway) attempt(ctx context.Context, spec ToolSpec, args map[string]any) (map[string]any, error) {
	validated, err := validateArguments(spec.Definition.Parameters, args)
	if err != nil {
		return nil, fmt.Errorf("invalid input for tool '%s': %w", spec.Name(), err)
	}

	raw, err := g.invoke(ctx, spec, validated)
	if err != nil {
		return nil, err
	}

	output, err := jsonx.ToMap(raw)
	if err != nil {
		return nil, fmt.Errorf("tool '%s' returned non-JSON output: %w", spec.Name(), err)
	}
	if err := validateOutput(spec.Output, output); err != nil {
		return nil, fmt.Errorf("invalid output from tool '%s': %w", spec.Name(), err)
	}
	return output, nil
}

type invokeOutcome struct {
	output map[string]any
	err    error
}

// invoke runs Fn on a worker goroutine. On timeout the worker's context is
// cancelled and its eventual result is discarded.
func (g *Gateway) invoke(ctx context.Context, spec ToolSpec, args map[string]any) (map[string]any, error) {
	callCtx := ctx
	cancel := context.CancelFunc(func() {})
	if g.config.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, g.config.Timeout)
	}
	defer cancel()

	done := make(chan invokeOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- invokeOutcome{err: fmt.Errorf("tool '%s' panicked: %v", spec.Name(), r)}
			}
		}()
		output, err := spec.Fn(callCtx, args)
		done <- invokeOutcome{output: output, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && g.timedOut(ctx, callCtx) {
			return nil, g.timeoutError(spec.Name())
		}
		return res.output, res.err
	case <-callCtx.Done():
		if g.timedOut(ctx, callCtx) {
			return nil, g.timeoutError(spec.Name())
		}
		return nil, callCtx.Err()
	}
}

func (g *Gateway) timedOut(parent, call context.Context) bool {
	return parent.Err() == nil && errors.Is(call.Err(), context.DeadlineExceeded)
}

func (g *Gateway) timeoutError(name string) error {
	return fmt.Errorf("tool '%s' timed out after %.2fs", name, g.config.Timeout.Seconds())
}

func (g *Gateway) recordAttempt(ctx context.Context, tool, outcome string) {
	if g.metrics != nil {
		g.metrics.RecordToolAttempt(ctx, tool, outcome)
	}
}

func sleepBackoff(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func elapsedMs(start time.Time) float64 {
	ms := float64(time.Since(start).Microseconds()) / 1000.0
	return math.Round(ms*100) / 100
}
