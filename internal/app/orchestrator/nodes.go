package orchestrator

import (
	"context"
	"maps"

	"agentorch/internal/app/planner"
	"agentorch/internal/app/toolregistry"
	"agentorch/internal/app/verifier"
	"agentorch/internal/domain/task"
	"agentorch/internal/infra/tools/builtin/shared"
	"agentorch/internal/shared/logging"
)

// Telemetry keys written by the nodes.
const (
	TelemetryPlanner       = "planner"
	TelemetryRetrieval     = "retrieval"
	TelemetryExecutor      = "executor"
	TelemetryToolExecution = "tool_execution"
)

// RetrievalTelemetry lists the retrieval tools in the current plan.
type RetrievalTelemetry struct {
	PlannedRetrievalTools []string `json:"planned_retrieval_tools"`
	Count                 int      `json:"count"`
}

// ExecutorTelemetry describes the registry the execute node ran against.
type ExecutorTelemetry struct {
	RequestedMode  string `json:"requested_mode"`
	EffectiveMode  string `json:"effective_mode"`
	FallbackUsed   bool   `json:"fallback_used"`
	FallbackReason string `json:"fallback_reason,omitempty"`
}

// ToolEvent is one gateway execution.
type ToolEvent struct {
	Iteration      int                 `json:"iteration"`
	Tool           string              `json:"tool"`
	Status         task.ResultStatus   `json:"status"`
	Implementation task.Implementation `json:"implementation"`
	Attempts       int                 `json:"attempts"`
	DurationMs     float64             `json:"duration_ms"`
}

// ToolExecutionSummary counts events across iterations.
type ToolExecutionSummary struct {
	ExecutedTools int `json:"executed_tools"`
	FailedTools   int `json:"failed_tools"`
}

// ToolExecutionTelemetry accumulates events over every iteration of a run.
type ToolExecutionTelemetry struct {
	Events  []ToolEvent          `json:"events"`
	Summary ToolExecutionSummary `json:"summary"`
}

type planNode struct {
	planner *planner.Planner
}

func (n *planNode) Name() string { return "plan" }

func (n *planNode) Run(ctx context.Context, state task.State) (task.Patch, error) {
	res := n.planner.Plan(ctx, state.UserInput, state.Context, state.PlannerMode)
	patch := task.Patch{
		PlanSteps: res.Steps,
		Telemetry: map[string]any{TelemetryPlanner: res.Telemetry},
	}
	if res.Telemetry.FallbackUsed {
		// Later iterations skip the model once it has failed.
		mode := res.Telemetry.EffectiveMode
		patch.PlannerMode = &mode
	}
	return patch, nil
}

type retrieveNode struct{}

func (retrieveNode) Name() string { return "retrieve" }

func (retrieveNode) Run(_ context.Context, state task.State) (task.Patch, error) {
	tools := make([]string, 0)
	for _, step := range state.PlanSteps {
		if toolregistry.IsRetrievalTool(step.Tool) {
			tools = append(tools, step.Tool)
		}
	}
	return task.Patch{Telemetry: map[string]any{
		TelemetryRetrieval: RetrievalTelemetry{PlannedRetrievalTools: tools, Count: len(tools)},
	}}, nil
}

type executeNode struct {
	registry   *toolregistry.Registry
	modelTools toolregistry.ModelToolFactory
	config     Config
	logger     logging.Logger
	metrics    Metrics
}

func (n *executeNode) Name() string { return "execute" }

func (n *executeNode) Run(ctx context.Context, state task.State) (task.Patch, error) {
	registry, resolution := toolregistry.ResolveRegistry(state.ExecutorMode, n.registry, n.config.LLM, n.modelTools)
	if resolution.FallbackUsed() {
		n.logger.Warn("task %s: executor mode %s fell back to deterministic: %s",
			state.TaskID, resolution.RequestedMode, resolution.FallbackReason)
	}
	gatewayOpts := []toolregistry.GatewayOption{toolregistry.WithLogger(n.logger)}
	if n.metrics != nil {
		gatewayOpts = append(gatewayOpts, toolregistry.WithMetrics(n.metrics))
	}
	gateway := toolregistry.NewGateway(registry, n.config.Gateway, gatewayOpts...)

	results := maps.Clone(state.ToolResults)
	if results == nil {
		results = map[string]task.ToolResult{}
	}
	history, _ := state.Telemetry[TelemetryToolExecution].(ToolExecutionTelemetry)
	events := append([]ToolEvent(nil), history.Events...)
	updated := make(map[string]task.ToolResult)

	for _, step := range state.PlanSteps {
		if step.Tool == "" {
			continue
		}
		if existing, ok := results[step.Tool]; ok && existing.OK() {
			continue
		}

		args := stepArgs(step, state, results)
		exec := gateway.Execute(ctx, step.Tool, args)
		result := exec.ToolResult()
		results[step.Tool] = result
		updated[step.Tool] = result

		events = append(events, ToolEvent{
			Iteration:      state.RetryCount,
			Tool:           step.Tool,
			Status:         exec.Status,
			Implementation: exec.Implementation,
			Attempts:       exec.Attempts,
			DurationMs:     exec.DurationMs,
		})
	}

	summary := ToolExecutionSummary{ExecutedTools: len(events)}
	for _, ev := range events {
		if ev.Status != task.ResultOK {
			summary.FailedTools++
		}
	}

	return task.Patch{
		ToolResults: updated,
		Telemetry: map[string]any{
			TelemetryExecutor: ExecutorTelemetry{
				RequestedMode:  resolution.RequestedMode,
				EffectiveMode:  resolution.EffectiveMode,
				FallbackUsed:   resolution.EffectiveMode != resolution.RequestedMode,
				FallbackReason: resolution.FallbackReason,
			},
			TelemetryToolExecution: ToolExecutionTelemetry{Events: events, Summary: summary},
		},
	}, nil
}

// stepArgs copies the planned args (or the defaults) and, for the brief,
// injects the evidence gathered so far.
func stepArgs(step task.PlanStep, state task.State, results map[string]task.ToolResult) map[string]any {
	var args map[string]any
	if step.Args != nil {
		args = maps.Clone(step.Args)
	} else {
		args = toolregistry.DefaultArgs(step.Tool, state.UserInput, state.Context)
	}
	if step.Tool != toolregistry.ToolBuildIncidentBrief {
		return args
	}

	if shared.NonEmptyString(args["query"]) == "" {
		args["query"] = state.UserInput
	}
	args["incident_knowledge"] = resultRows(results, toolregistry.ToolSearchIncidentKnowledge)
	args["previous_issues"] = resultRows(results, toolregistry.ToolSearchPreviousIssues)
	return args
}

func resultRows(results map[string]task.ToolResult, tool string) []any {
	rows := shared.ObjectSliceArg(results[tool].Output, "results")
	out := make([]any, 0, len(rows))
	for _, row := range rows {
		out = append(out, row)
	}
	return out
}

type verifyNode struct{}

func (verifyNode) Name() string { return "verify" }

func (verifyNode) Run(_ context.Context, state task.State) (task.Patch, error) {
	v := verifier.Verify(state.UserInput, state.ToolResults, state.RetryCount, state.RetryBudget)
	count := v.Retry.Count
	return task.Patch{Verification: &v, RetryCount: &count}, nil
}

type finalizeNode struct{}

func (finalizeNode) Name() string { return "finalize" }

func (finalizeNode) Run(_ context.Context, state task.State) (task.Patch, error) {
	output := RenderFinalOutput(state)
	return task.Patch{FinalOutput: &output}, nil
}
