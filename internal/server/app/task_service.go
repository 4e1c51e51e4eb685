// Package app holds the task application service behind the HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"agentorch/internal/app/orchestrator"
	"agentorch/internal/domain/task"
	jsonx "agentorch/internal/shared/json"
	"agentorch/internal/shared/logging"
)

var (
	// ErrValidation indicates invalid input from the caller.
	ErrValidation = errors.New("validation error")
	// ErrRunFailed indicates the orchestrator returned an error for a run.
	ErrRunFailed = errors.New("task run failed")
)

// Runner executes an orchestration state to completion.
type Runner interface {
	Run(ctx context.Context, state task.State) (task.State, error)
}

// RunDefaults are the modes and retry budget applied to every API run.
type RunDefaults struct {
	PlannerMode  string
	ExecutorMode string
	RetryBudget  int
}

// TaskService creates tasks, runs them through the orchestrator and records
// the outcome.
type TaskService struct {
	store    task.Store
	runner   Runner
	defaults RunDefaults
	logger   logging.Logger
}

// NewTaskService wires a store and a runner.
func NewTaskService(store task.Store, runner Runner, defaults RunDefaults, logger logging.Logger) *TaskService {
	if logger == nil {
		logger = logging.NewComponentLogger("TaskService")
	}
	return &TaskService{store: store, runner: runner, defaults: defaults, logger: logger}
}

// CreateTask stores a pending task for prompt.
func (s *TaskService) CreateTask(ctx context.Context, prompt string, taskContext map[string]string) (task.Record, error) {
	if strings.TrimSpace(prompt) == "" {
		return task.Record{}, fmt.Errorf("prompt is required: %w", ErrValidation)
	}
	return s.store.CreateTask(ctx, prompt, taskContext)
}

// GetTask returns the stored task.
func (s *TaskService) GetTask(ctx context.Context, taskID string) (task.Record, error) {
	return s.store.GetTask(ctx, taskID)
}

// LatestRun returns the newest run of an existing task.
func (s *TaskService) LatestRun(ctx context.Context, taskID string) (task.Run, error) {
	if _, err := s.store.GetTask(ctx, taskID); err != nil {
		return task.Run{}, err
	}
	return s.store.GetLatestTaskRun(ctx, taskID)
}

// RunTask executes the task's prompt and persists a run record. On an
// orchestrator error the run and the task are marked failed and ErrRunFailed
// is returned.
func (s *TaskService) RunTask(ctx context.Context, taskID string) (task.Record, error) {
	rec, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return task.Record{}, err
	}
	if _, err := s.store.UpdateTask(ctx, taskID, task.StatusRunning); err != nil {
		return task.Record{}, err
	}

	initial := task.NewState(taskID, rec.Prompt, rec.Context,
		s.defaults.PlannerMode, s.defaults.ExecutorMode, s.defaults.RetryBudget)
	final, runErr := s.runner.Run(ctx, initial)
	if runErr != nil {
		s.logger.Error("task %s: run failed: %v", taskID, runErr)
		return task.Record{}, s.recordFailure(ctx, taskID, runErr)
	}

	verification, err := VerificationPayload(final)
	if err != nil {
		return task.Record{}, s.recordFailure(ctx, taskID, err)
	}
	stateMap, err := jsonx.ToMap(final)
	if err != nil {
		return task.Record{}, s.recordFailure(ctx, taskID, err)
	}
	toolResults, err := jsonx.ToMap(final.ToolResults)
	if err != nil {
		return task.Record{}, s.recordFailure(ctx, taskID, err)
	}

	if _, err := s.store.CreateTaskRun(ctx, task.Run{
		TaskID:       taskID,
		Status:       task.StatusCompleted,
		State:        stateMap,
		Plan:         final.PlanSteps,
		ToolResults:  toolResults,
		Verification: verification,
		Output:       final.FinalOutput,
	}); err != nil {
		return task.Record{}, err
	}
	return s.store.UpdateTask(ctx, taskID, task.StatusCompleted,
		task.WithOutput(final.FinalOutput), task.WithVerification(verification))
}

func (s *TaskService) recordFailure(ctx context.Context, taskID string, cause error) error {
	verification := map[string]any{"passed": false, "error": "execution_error"}
	if _, err := s.store.CreateTaskRun(ctx, task.Run{
		TaskID:       taskID,
		Status:       task.StatusFailed,
		State:        map[string]any{"error": cause.Error()},
		Verification: verification,
	}); err != nil {
		s.logger.Warn("task %s: store failed run: %v", taskID, err)
	}
	if _, err := s.store.UpdateTask(ctx, taskID, task.StatusFailed, task.WithVerification(verification)); err != nil {
		s.logger.Warn("task %s: mark failed: %v", taskID, err)
	}
	return fmt.Errorf("%w: %v", ErrRunFailed, cause)
}

// VerificationPayload is the stored verification plus a runtime block with
// the planner and executor telemetry of the run.
func VerificationPayload(state task.State) (map[string]any, error) {
	payload := map[string]any{}
	if state.Verification != nil {
		encoded, err := jsonx.ToMap(state.Verification)
		if err != nil {
			return nil, fmt.Errorf("encode verification: %w", err)
		}
		payload = encoded
	}

	runtime := map[string]any{"planner": map[string]any{}, "executor": map[string]any{}}
	for key, telemetryKey := range map[string]string{
		"planner":  orchestrator.TelemetryPlanner,
		"executor": orchestrator.TelemetryExecutor,
	} {
		value, ok := state.Telemetry[telemetryKey]
		if !ok {
			continue
		}
		encoded, err := jsonx.ToMap(value)
		if err != nil {
			return nil, fmt.Errorf("encode %s telemetry: %w", key, err)
		}
		runtime[key] = encoded
	}
	payload["runtime"] = runtime
	return payload, nil
}
