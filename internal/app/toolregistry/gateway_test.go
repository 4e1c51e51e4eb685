package toolregistry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"agentorch/internal/domain/agent/ports"
	"agentorch/internal/domain/task"
	"agentorch/internal/shared/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T, cfg GatewayConfig, specs ...ToolSpec) *Gateway {
	t.Helper()
	r, err := NewRegistry(specs...)
	require.NoError(t, err)
	return NewGateway(r, cfg, WithLogger(logging.Nop()))
}

func slowSpec(name string, sleep time.Duration, calls *atomic.Int32) ToolSpec {
	return ToolSpec{
		Definition: ports.ToolDefinition{Name: name, Parameters: ports.ParameterSchema{Type: "object"}},
		Fn: func(context.Context, map[string]any) (map[string]any, error) {
			calls.Add(1)
			time.Sleep(sleep)
			return map[string]any{"done": true}, nil
		},
	}
}

func TestGatewayTimeoutIsRetriedThenFails(t *testing.T) {
	var calls atomic.Int32
	g := newTestGateway(t, GatewayConfig{Timeout: 10 * time.Millisecond, MaxRetries: 1}, slowSpec("slow_tool", 50*time.Millisecond, &calls))

	exec := g.Execute(context.Background(), "slow_tool", map[string]any{})

	assert.Equal(t, task.ResultFailed, exec.Status)
	assert.Equal(t, 2, exec.Attempts)
	assert.Contains(t, exec.Error, "timed out")
	assert.Equal(t, "tool 'slow_tool' timed out after 0.01s", exec.Error)
	assert.Nil(t, exec.Output)
}

func TestGatewayCancelsCooperativeTool(t *testing.T) {
	cancelled := make(chan struct{}, 1)
	spec := ToolSpec{
		Definition: ports.ToolDefinition{Name: "waiter", Parameters: ports.ParameterSchema{Type: "object"}},
		Fn: func(ctx context.Context, _ map[string]any) (map[string]any, error) {
			<-ctx.Done()
			cancelled <- struct{}{}
			return nil, ctx.Err()
		},
	}
	g := newTestGateway(t, GatewayConfig{Timeout: 5 * time.Millisecond}, spec)

	exec := g.Execute(context.Background(), "waiter", nil)
	require.Equal(t, task.ResultFailed, exec.Status)
	assert.Contains(t, exec.Error, "timed out")

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("tool context was not cancelled")
	}
}

func TestGatewayUnknownToolIsNotRetried(t *testing.T) {
	g := newTestGateway(t, GatewayConfig{Timeout: time.Second, MaxRetries: 3})

	exec := g.Execute(context.Background(), "does_not_exist", map[string]any{})

	assert.Equal(t, task.ResultFailed, exec.Status)
	assert.Equal(t, 1, exec.Attempts)
	assert.Equal(t, "unknown tool: does_not_exist", exec.Error)
}

func TestGatewayValidationFailureConsumesAttempts(t *testing.T) {
	var calls atomic.Int32
	spec := echoSpec("summarize")
	inner := spec.Fn
	spec.Fn = func(ctx context.Context, args map[string]any) (map[string]any, error) {
		calls.Add(1)
		return inner(ctx, args)
	}
	g := newTestGateway(t, GatewayConfig{Timeout: time.Second, MaxRetries: 2}, spec)

	exec := g.Execute(context.Background(), "summarize", map[string]any{"text": "x", "extra": true})

	assert.Equal(t, task.ResultFailed, exec.Status)
	assert.Equal(t, 3, exec.Attempts)
	assert.Contains(t, exec.Error, "invalid input for tool 'summarize'")
	assert.Equal(t, int32(0), calls.Load(), "tool body must not run on invalid input")
}

func TestGatewayRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	spec := ToolSpec{
		Definition: ports.ToolDefinition{Name: "flaky", Parameters: ports.ParameterSchema{Type: "object"}},
		Fn: func(context.Context, map[string]any) (map[string]any, error) {
			if calls.Add(1) == 1 {
				return nil, errors.New("first call fails")
			}
			return map[string]any{"n": 1}, nil
		},
	}
	g := newTestGateway(t, GatewayConfig{Timeout: time.Second, MaxRetries: 2, Backoff: time.Millisecond}, spec)

	exec := g.Execute(context.Background(), "flaky", nil)

	require.Equal(t, task.ResultOK, exec.Status)
	assert.Equal(t, 2, exec.Attempts)
	assert.Equal(t, float64(1), exec.Output["n"], "output is normalized through JSON")
	assert.Empty(t, exec.Error)
}

func TestGatewayReturnsLastErrorVerbatim(t *testing.T) {
	var calls atomic.Int32
	spec := ToolSpec{
		Definition: ports.ToolDefinition{Name: "broken", Parameters: ports.ParameterSchema{Type: "object"}},
		Fn: func(context.Context, map[string]any) (map[string]any, error) {
			n := calls.Add(1)
			return nil, errors.New(strings.Repeat("x", int(n)))
		},
	}
	g := newTestGateway(t, GatewayConfig{Timeout: time.Second, MaxRetries: 1}, spec)

	exec := g.Execute(context.Background(), "broken", nil)
	assert.Equal(t, "xx", exec.Error)
	assert.Equal(t, 2, exec.Attempts)
}

func TestGatewayValidatesOutput(t *testing.T) {
	spec := ToolSpec{
		Definition: ports.ToolDefinition{Name: "classify_priority", Parameters: ports.ParameterSchema{Type: "object"}},
		Output: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"priority": {Type: "string", Enum: []any{"low", "medium", "high", "critical"}},
			},
			Required: []string{"priority"},
		},
		Fn: func(context.Context, map[string]any) (map[string]any, error) {
			return map[string]any{"priority": "urgent"}, nil
		},
	}
	g := newTestGateway(t, GatewayConfig{Timeout: time.Second}, spec)

	exec := g.Execute(context.Background(), "classify_priority", nil)
	assert.Equal(t, task.ResultFailed, exec.Status)
	assert.Contains(t, exec.Error, "invalid output from tool 'classify_priority'")
}

func TestGatewayRecoversPanics(t *testing.T) {
	spec := ToolSpec{
		Definition: ports.ToolDefinition{Name: "panicky", Parameters: ports.ParameterSchema{Type: "object"}},
		Fn: func(context.Context, map[string]any) (map[string]any, error) {
			panic("kaboom")
		},
	}
	g := newTestGateway(t, GatewayConfig{Timeout: time.Second}, spec)

	exec := g.Execute(context.Background(), "panicky", nil)
	assert.Equal(t, task.ResultFailed, exec.Status)
	assert.Contains(t, exec.Error, "kaboom")
}

type recordingMetrics struct {
	mu         sync.Mutex
	attempts   []string
	executions []string
}

func (m *recordingMetrics) RecordToolAttempt(_ context.Context, tool, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, tool+":"+outcome)
}

func (m *recordingMetrics) RecordToolExecution(_ context.Context, tool, status, impl string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions = append(m.executions, tool+":"+status+":"+impl)
}

func TestGatewayRecordsMetrics(t *testing.T) {
	metrics := &recordingMetrics{}
	r, _ := NewRegistry(echoSpec("summarize"))
	g := NewGateway(r, GatewayConfig{Timeout: time.Second}, WithMetrics(metrics), WithLogger(logging.Nop()))

	exec := g.Execute(context.Background(), "summarize", map[string]any{"text": "hi"})
	require.Equal(t, task.ResultOK, exec.Status)

	assert.Equal(t, []string{"summarize:ok"}, metrics.attempts)
	assert.Equal(t, []string{"summarize:ok:deterministic"}, metrics.executions)
}

func TestExecutionToolResult(t *testing.T) {
	exec := Execution{Status: task.ResultOK, Output: map[string]any{"a": 1}, Implementation: task.ImplementationModel, Attempts: 1, DurationMs: 1.5}
	res := exec.ToolResult()
	assert.True(t, res.OK())
	assert.Equal(t, task.ImplementationModel, res.Implementation)
	assert.Equal(t, 1.5, res.DurationMs)
}
