// Package task defines the orchestration state threaded through a run and the
// persisted task/run records served by the API.
package task

import (
	"context"
	"errors"
	"time"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether the status is a final state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

var (
	// ErrTaskNotFound is returned when no task exists for an id.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskRunNotFound is returned when a task has no runs yet.
	ErrTaskRunNotFound = errors.New("task run not found")
)

// Record is a submitted task and the outcome of its most recent run.
type Record struct {
	TaskID       string            `json:"task_id"`
	Prompt       string            `json:"prompt"`
	Context      map[string]string `json:"context"`
	Status       Status            `json:"status"`
	Output       string            `json:"output,omitempty"`
	Verification map[string]any    `json:"verification,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Run is the persisted snapshot of one orchestrator run.
type Run struct {
	RunID        int64          `json:"run_id"`
	TaskID       string         `json:"task_id"`
	Status       Status         `json:"status"`
	State        map[string]any `json:"state"`
	Plan         []PlanStep     `json:"plan"`
	ToolResults  map[string]any `json:"tool_results"`
	Verification map[string]any `json:"verification"`
	Output       string         `json:"output,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// UpdateParams holds optional fields for an UpdateTask call.
type UpdateParams struct {
	Output       *string
	Verification map[string]any
}

// UpdateOption customises an UpdateTask call.
type UpdateOption func(*UpdateParams)

// WithOutput stores the run's final output on the task.
func WithOutput(output string) UpdateOption {
	return func(p *UpdateParams) { p.Output = &output }
}

// WithVerification stores the verification payload on the task.
func WithVerification(verification map[string]any) UpdateOption {
	return func(p *UpdateParams) { p.Verification = verification }
}

// ApplyUpdateOptions collects all options into an UpdateParams.
func ApplyUpdateOptions(opts []UpdateOption) UpdateParams {
	var p UpdateParams
	for _, fn := range opts {
		fn(&p)
	}
	return p
}

// Store is the task persistence port.
type Store interface {
	// EnsureSchema creates or migrates the schema.
	EnsureSchema(ctx context.Context) error

	// CreateTask persists a new pending task.
	CreateTask(ctx context.Context, prompt string, taskContext map[string]string) (Record, error)

	// GetTask retrieves a task by ID, or ErrTaskNotFound.
	GetTask(ctx context.Context, taskID string) (Record, error)

	// UpdateTask sets the task status and any optional fields.
	UpdateTask(ctx context.Context, taskID string, status Status, opts ...UpdateOption) (Record, error)

	// CreateTaskRun appends a run record and returns it with its assigned id.
	CreateTaskRun(ctx context.Context, run Run) (Run, error)

	// GetLatestTaskRun returns the newest run for a task, or ErrTaskRunNotFound.
	GetLatestTaskRun(ctx context.Context, taskID string) (Run, error)
}
