// Package orchestrator runs the plan → retrieve → execute → verify loop and
// renders the final output.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"agentorch/internal/app/planner"
	"agentorch/internal/app/toolregistry"
	"agentorch/internal/app/verifier"
	"agentorch/internal/domain/task"
	"agentorch/internal/observability"
	"agentorch/internal/shared/logging"

	"go.opentelemetry.io/otel/attribute"
)

// Node is one stage of the state machine.
type Node interface {
	Name() string
	Run(ctx context.Context, state task.State) (task.Patch, error)
}

// Metrics receives tool and run outcomes.
type Metrics interface {
	toolregistry.MetricsRecorder
	RecordRun(ctx context.Context, passed bool, retries int)
}

// Config carries the executor settings.
type Config struct {
	Gateway toolregistry.GatewayConfig
	LLM     toolregistry.LLMSettings
}

// Engine drives a task.State through the nodes.
type Engine struct {
	plan     Node
	retrieve Node
	execute  Node
	verify   Node
	finalize Node
	logger   logging.Logger
	metrics  Metrics
}

// Option customises an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	logger     logging.Logger
	metrics    Metrics
	modelTools toolregistry.ModelToolFactory
}

// WithLogger sets the engine logger.
func WithLogger(logger logging.Logger) Option {
	return func(o *engineOptions) { o.logger = logging.OrNop(logger) }
}

// WithMetrics records tool executions and run outcomes.
func WithMetrics(metrics Metrics) Option {
	return func(o *engineOptions) { o.metrics = metrics }
}

// WithModelTools enables executor llm mode.
func WithModelTools(factory toolregistry.ModelToolFactory) Option {
	return func(o *engineOptions) { o.modelTools = factory }
}

// New wires the nodes over a planner and the deterministic registry.
func New(p *planner.Planner, registry *toolregistry.Registry, config Config, opts ...Option) *Engine {
	o := engineOptions{logger: logging.NewComponentLogger("Orchestrator")}
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine{
		plan:     &planNode{planner: p},
		retrieve: retrieveNode{},
		execute: &executeNode{
			registry:   registry,
			modelTools: o.modelTools,
			config:     config,
			logger:     o.logger,
			metrics:    o.metrics,
		},
		verify:   verifyNode{},
		finalize: finalizeNode{},
		logger:   o.logger,
		metrics:  o.metrics,
	}
}

// Run executes state to completion. Every iteration plans, retrieves,
// executes and verifies; a failed verification loops back to planning while
// the retry budget allows, bounded by RetryBudget+1 iterations.
func (e *Engine) Run(ctx context.Context, state task.State) (task.State, error) {
	ctx = observability.ContextWithTaskID(ctx, state.TaskID)
	ctx, span := observability.StartSpan(ctx, observability.SpanRun,
		attribute.String(observability.AttrPlanner, state.PlannerMode),
		attribute.String(observability.AttrExecutor, state.ExecutorMode),
	)
	start := time.Now()

	state, err := e.run(ctx, state)
	observability.EndSpan(span, err)
	if err != nil {
		e.logger.Error("task %s: run failed after %s: %v", state.TaskID, time.Since(start).Round(time.Millisecond), err)
		return state, err
	}

	passed := state.Verification != nil && state.Verification.Passed
	if e.metrics != nil {
		e.metrics.RecordRun(ctx, passed, state.RetryCount)
	}
	e.logger.Info("task %s: run finished passed=%t retries=%d in %s",
		state.TaskID, passed, state.RetryCount, time.Since(start).Round(time.Millisecond))
	return state, nil
}

func (e *Engine) run(ctx context.Context, state task.State) (task.State, error) {
	maxIterations := state.RetryBudget + 1
	var err error
	for iteration := 0; iteration < maxIterations; iteration++ {
		for _, node := range []Node{e.plan, e.retrieve, e.execute, e.verify} {
			state, err = e.step(ctx, node, state, iteration)
			if err != nil {
				return state, err
			}
		}
		if !e.shouldRetry(state) {
			break
		}
		e.logger.Info("task %s: verification failed, retrying (%d/%d)", state.TaskID, state.RetryCount, state.RetryBudget)
	}
	return e.step(ctx, e.finalize, state, state.RetryCount)
}

func (e *Engine) shouldRetry(state task.State) bool {
	if state.Verification == nil {
		return false
	}
	return verifier.ShouldRetry(*state.Verification, state.RetryCount, state.RetryBudget)
}

func (e *Engine) step(ctx context.Context, node Node, state task.State, iteration int) (task.State, error) {
	if err := ctx.Err(); err != nil {
		return state, fmt.Errorf("%s: %w", node.Name(), err)
	}
	ctx, span := observability.StartSpan(ctx, observability.SpanNodePrefix+node.Name(), observability.IterationAttrs(iteration)...)
	e.logger.Debug("task %s: enter %s (iteration %d)", state.TaskID, node.Name(), iteration)

	patch, err := node.Run(ctx, state)
	observability.EndSpan(span, err)
	if err != nil {
		return state, fmt.Errorf("%s: %w", node.Name(), err)
	}
	return state.Apply(patch), nil
}
