package task

import (
	"maps"
	"strings"
)

// StepStatus tracks a plan step through execution.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepOK      StepStatus = "ok"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// ResultStatus is the outcome of a gateway execution.
type ResultStatus string

const (
	ResultOK     ResultStatus = "ok"
	ResultFailed ResultStatus = "failed"
)

// Implementation tags which backend served a tool.
type Implementation string

const (
	ImplementationDeterministic Implementation = "deterministic"
	ImplementationModel         Implementation = "model"
)

// PlanStep is one tool invocation proposed by the planner.
type PlanStep struct {
	ID     string         `json:"id"`
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args"`
	Status StepStatus     `json:"status"`
}

// ToolResult is the recorded outcome of a tool, keyed by tool name in State.
type ToolResult struct {
	Status         ResultStatus   `json:"status"`
	Output         map[string]any `json:"data,omitempty"`
	Error          string         `json:"error,omitempty"`
	Implementation Implementation `json:"implementation"`
	Attempts       int            `json:"attempts"`
	DurationMs     float64        `json:"duration_ms"`
}

// OK reports whether the tool succeeded.
func (r ToolResult) OK() bool {
	return r.Status == ResultOK
}

// IncidentGate is the evidence/citation gate applied to incident-like input.
type IncidentGate struct {
	Required bool     `json:"required"`
	Passed   bool     `json:"passed"`
	Failures []string `json:"failures"`
}

// RetryInfo is the retry accounting attached to a verification.
type RetryInfo struct {
	Count           int  `json:"count"`
	Budget          int  `json:"budget"`
	Remaining       int  `json:"remaining"`
	BudgetExhausted bool `json:"budget_exhausted"`
}

// VerificationResult is the verifier's verdict over accumulated tool results.
type VerificationResult struct {
	Passed            bool         `json:"passed"`
	MissingTools      []string     `json:"missing_tools"`
	FailedTools       []string     `json:"failed_tools"`
	GateFailures      []string     `json:"gate_failures"`
	ConsistencyIssues []string     `json:"consistency_issues"`
	IncidentGate      IncidentGate `json:"incident_gate"`
	Retry             RetryInfo    `json:"retry"`
}

// State is the mutable record threaded through one orchestrator run.
type State struct {
	TaskID       string                `json:"task_id"`
	UserInput    string                `json:"user_input"`
	Context      map[string]string     `json:"context"`
	PlannerMode  string                `json:"planner_mode"`
	ExecutorMode string                `json:"executor_mode"`
	PlanSteps    []PlanStep            `json:"plan_steps"`
	ToolResults  map[string]ToolResult `json:"tool_results"`
	Verification *VerificationResult   `json:"verification,omitempty"`
	RetryCount   int                   `json:"retry_count"`
	RetryBudget  int                   `json:"retry_budget"`
	Telemetry    map[string]any        `json:"telemetry"`
	FinalOutput  string                `json:"final_output"`
}

// NewState builds the initial state for a run.
func NewState(taskID, userInput string, taskContext map[string]string, plannerMode, executorMode string, retryBudget int) State {
	ctx := make(map[string]string, len(taskContext))
	maps.Copy(ctx, taskContext)
	if retryBudget < 0 {
		retryBudget = 0
	}
	return State{
		TaskID:       taskID,
		UserInput:    userInput,
		Context:      ctx,
		PlannerMode:  plannerMode,
		ExecutorMode: executorMode,
		PlanSteps:    []PlanStep{},
		ToolResults:  map[string]ToolResult{},
		RetryBudget:  retryBudget,
		Telemetry:    map[string]any{},
	}
}

// Patch is the partial update a stage returns. Nil fields leave the state
// untouched; map fields merge per key.
type Patch struct {
	PlannerMode  *string
	PlanSteps    []PlanStep
	ToolResults  map[string]ToolResult
	Verification *VerificationResult
	RetryCount   *int
	Telemetry    map[string]any
	FinalOutput  *string
}

// Apply merges p into a copy of s. Keys are overridden, never deleted.
func (s State) Apply(p Patch) State {
	next := s
	next.Context = maps.Clone(s.Context)

	if p.PlannerMode != nil {
		next.PlannerMode = *p.PlannerMode
	}
	if p.PlanSteps != nil {
		next.PlanSteps = append([]PlanStep(nil), p.PlanSteps...)
	}

	next.ToolResults = make(map[string]ToolResult, len(s.ToolResults)+len(p.ToolResults))
	maps.Copy(next.ToolResults, s.ToolResults)
	maps.Copy(next.ToolResults, p.ToolResults)

	next.Telemetry = make(map[string]any, len(s.Telemetry)+len(p.Telemetry))
	maps.Copy(next.Telemetry, s.Telemetry)
	maps.Copy(next.Telemetry, p.Telemetry)

	if p.Verification != nil {
		v := *p.Verification
		next.Verification = &v
	}
	if p.RetryCount != nil {
		next.RetryCount = *p.RetryCount
	}
	if p.FinalOutput != nil {
		next.FinalOutput = *p.FinalOutput
	}
	return next
}

// IncidentKeywords are the lowercase substrings that mark input as incident-like.
var IncidentKeywords = []string{"incident", "outage", "sev", "latency", "error"}

// MentionsIncident reports whether text contains an incident keyword.
func MentionsIncident(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range IncidentKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
