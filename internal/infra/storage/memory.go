// Package storage implements task.Store in memory and on Postgres.
package storage

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"agentorch/internal/domain/task"

	"github.com/google/uuid"
)

// MemoryStore keeps tasks and runs in process memory. It is used when no
// database is configured and in tests.
type MemoryStore struct {
	mu        sync.RWMutex
	tasks     map[string]task.Record
	runs      map[string][]task.Run
	nextRunID int64
	now       func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks: make(map[string]task.Record),
		runs:  make(map[string][]task.Run),
		now:   time.Now,
	}
}

// EnsureSchema is a no-op for the memory store.
func (s *MemoryStore) EnsureSchema(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("task store not initialized")
	}
	return ctx.Err()
}

// CreateTask stores a new pending task under a fresh UUID.
func (s *MemoryStore) CreateTask(ctx context.Context, prompt string, taskContext map[string]string) (task.Record, error) {
	if err := ctx.Err(); err != nil {
		return task.Record{}, err
	}
	now := s.now().UTC()
	rec := task.Record{
		TaskID:    uuid.NewString(),
		Prompt:    prompt,
		Context:   cloneContext(taskContext),
		Status:    task.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.tasks[rec.TaskID] = rec
	s.mu.Unlock()
	return copyRecord(rec), nil
}

// GetTask returns the task or task.ErrTaskNotFound.
func (s *MemoryStore) GetTask(ctx context.Context, taskID string) (task.Record, error) {
	if err := ctx.Err(); err != nil {
		return task.Record{}, err
	}
	s.mu.RLock()
	rec, ok := s.tasks[taskID]
	s.mu.RUnlock()
	if !ok {
		return task.Record{}, task.ErrTaskNotFound
	}
	return copyRecord(rec), nil
}

// UpdateTask sets the status and any optional output/verification.
func (s *MemoryStore) UpdateTask(ctx context.Context, taskID string, status task.Status, opts ...task.UpdateOption) (task.Record, error) {
	if err := ctx.Err(); err != nil {
		return task.Record{}, err
	}
	params := task.ApplyUpdateOptions(opts)

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tasks[taskID]
	if !ok {
		return task.Record{}, task.ErrTaskNotFound
	}
	rec.Status = status
	if params.Output != nil {
		rec.Output = *params.Output
	}
	if params.Verification != nil {
		rec.Verification = maps.Clone(params.Verification)
	}
	rec.UpdatedAt = s.now().UTC()
	s.tasks[taskID] = rec
	return copyRecord(rec), nil
}

// CreateTaskRun appends run to its task's history with the next run id.
func (s *MemoryStore) CreateTaskRun(ctx context.Context, run task.Run) (task.Run, error) {
	if err := ctx.Err(); err != nil {
		return task.Run{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[run.TaskID]; !ok {
		return task.Run{}, task.ErrTaskNotFound
	}
	s.nextRunID++
	now := s.now().UTC()
	run.RunID = s.nextRunID
	run.CreatedAt = now
	run.UpdatedAt = now
	s.runs[run.TaskID] = append(s.runs[run.TaskID], run)
	return run, nil
}

// GetLatestTaskRun returns the most recently created run for taskID.
func (s *MemoryStore) GetLatestTaskRun(ctx context.Context, taskID string) (task.Run, error) {
	if err := ctx.Err(); err != nil {
		return task.Run{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := s.runs[taskID]
	if len(runs) == 0 {
		return task.Run{}, task.ErrTaskRunNotFound
	}
	return runs[len(runs)-1], nil
}

func cloneContext(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	maps.Copy(out, in)
	return out
}

func copyRecord(rec task.Record) task.Record {
	rec.Context = cloneContext(rec.Context)
	rec.Verification = maps.Clone(rec.Verification)
	return rec
}

var _ task.Store = (*MemoryStore)(nil)
