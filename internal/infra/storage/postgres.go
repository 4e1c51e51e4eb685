package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"agentorch/internal/domain/task"
	jsonx "agentorch/internal/shared/json"
	"agentorch/internal/shared/logging"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	tasksTable = "tasks"
	runsTable  = "task_runs"

	foreignKeyViolation = "23503"
)

// PostgresStore persists tasks and runs in Postgres.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger logging.Logger
	now    func() time.Time
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		pool:   pool,
		logger: logging.NewComponentLogger("TaskStore"),
		now:    time.Now,
	}
}

// OpenPostgres connects to databaseURL and verifies the connection.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, errors.New("database url is required")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgresStore(pool), nil
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the task and run tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("task store not initialized")
	}
	statements := []string{
		`CREATE TABLE IF NOT EXISTS ` + tasksTable + ` (
    task_id UUID PRIMARY KEY,
    prompt TEXT NOT NULL,
    context_json JSONB NOT NULL DEFAULT '{}'::jsonb,
    status TEXT NOT NULL DEFAULT 'pending',
    output TEXT NOT NULL DEFAULT '',
    verification_json JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
		`CREATE TABLE IF NOT EXISTS ` + runsTable + ` (
    run_id BIGSERIAL PRIMARY KEY,
    task_id UUID NOT NULL REFERENCES ` + tasksTable + `(task_id) ON DELETE CASCADE,
    status TEXT NOT NULL,
    state_json JSONB NOT NULL DEFAULT '{}'::jsonb,
    plan_json JSONB NOT NULL DEFAULT '[]'::jsonb,
    tool_results_json JSONB NOT NULL DEFAULT '{}'::jsonb,
    verification_json JSONB NOT NULL DEFAULT '{}'::jsonb,
    output TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
		`CREATE INDEX IF NOT EXISTS idx_` + runsTable + `_task_created ON ` + runsTable + ` (task_id, created_at DESC, run_id DESC);`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure task schema: %w", err)
		}
	}
	return nil
}

// CreateTask inserts a pending task under a fresh UUID.
func (s *PostgresStore) CreateTask(ctx context.Context, prompt string, taskContext map[string]string) (task.Record, error) {
	if s == nil || s.pool == nil {
		return task.Record{}, fmt.Errorf("task store not initialized")
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
	contextJSON, err := jsonx.Marshal(rec.Context)
	if err != nil {
		return task.Record{}, fmt.Errorf("encode task context: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
INSERT INTO `+tasksTable+` (task_id, prompt, context_json, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
`, rec.TaskID, rec.Prompt, contextJSON, string(rec.Status), rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return task.Record{}, fmt.Errorf("create task: %w", err)
	}
	return rec, nil
}

// GetTask fetches a task by id, or task.ErrTaskNotFound.
func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (task.Record, error) {
	if s == nil || s.pool == nil {
		return task.Record{}, fmt.Errorf("task store not initialized")
	}
	if !validTaskID(taskID) {
		return task.Record{}, task.ErrTaskNotFound
	}

	row := s.pool.QueryRow(ctx, `
SELECT task_id::text, prompt, context_json, status, output, verification_json, created_at, updated_at
FROM `+tasksTable+`
WHERE task_id = $1
`, taskID)
	return scanRecord(row)
}

// UpdateTask sets status and the optional output/verification, returning the
// stored record.
func (s *PostgresStore) UpdateTask(ctx context.Context, taskID string, status task.Status, opts ...task.UpdateOption) (task.Record, error) {
	if s == nil || s.pool == nil {
		return task.Record{}, fmt.Errorf("task store not initialized")
	}
	if !validTaskID(taskID) {
		return task.Record{}, task.ErrTaskNotFound
	}
	params := task.ApplyUpdateOptions(opts)

	var verificationJSON []byte
	if params.Verification != nil {
		encoded, err := jsonx.Marshal(params.Verification)
		if err != nil {
			return task.Record{}, fmt.Errorf("encode verification: %w", err)
		}
		verificationJSON = encoded
	}

	row := s.pool.QueryRow(ctx, `
UPDATE `+tasksTable+`
SET status = $2,
    output = COALESCE($3, output),
    verification_json = COALESCE($4, verification_json),
    updated_at = $5
WHERE task_id = $1
RETURNING task_id::text, prompt, context_json, status, output, verification_json, created_at, updated_at
`, taskID, string(status), params.Output, verificationJSON, s.now().UTC())
	return scanRecord(row)
}

// CreateTaskRun inserts run and returns it with the database-assigned id.
func (s *PostgresStore) CreateTaskRun(ctx context.Context, run task.Run) (task.Run, error) {
	if s == nil || s.pool == nil {
		return task.Run{}, fmt.Errorf("task store not initialized")
	}
	if !validTaskID(run.TaskID) {
		return task.Run{}, task.ErrTaskNotFound
	}
	stateJSON, err := marshalOr(run.State, "{}")
	if err != nil {
		return task.Run{}, fmt.Errorf("encode run state: %w", err)
	}
	planJSON, err := marshalOr(run.Plan, "[]")
	if err != nil {
		return task.Run{}, fmt.Errorf("encode run plan: %w", err)
	}
	resultsJSON, err := marshalOr(run.ToolResults, "{}")
	if err != nil {
		return task.Run{}, fmt.Errorf("encode run tool results: %w", err)
	}
	verificationJSON, err := marshalOr(run.Verification, "{}")
	if err != nil {
		return task.Run{}, fmt.Errorf("encode run verification: %w", err)
	}

	now := s.now().UTC()
	err = s.pool.QueryRow(ctx, `
INSERT INTO `+runsTable+` (task_id, status, state_json, plan_json, tool_results_json, verification_json, output, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
RETURNING run_id
`, run.TaskID, string(run.Status), stateJSON, planJSON, resultsJSON, verificationJSON, run.Output, now).Scan(&run.RunID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return task.Run{}, task.ErrTaskNotFound
		}
		return task.Run{}, fmt.Errorf("create task run: %w", err)
	}
	run.CreatedAt = now
	run.UpdatedAt = now
	return run, nil
}

// GetLatestTaskRun returns the newest run for taskID, or
// task.ErrTaskRunNotFound.
func (s *PostgresStore) GetLatestTaskRun(ctx context.Context, taskID string) (task.Run, error) {
	if s == nil || s.pool == nil {
		return task.Run{}, fmt.Errorf("task store not initialized")
	}
	if !validTaskID(taskID) {
		return task.Run{}, task.ErrTaskRunNotFound
	}

	var (
		run                                                task.Run
		status                                             string
		stateJSON, planJSON, resultsJSON, verificationJSON []byte
	)
	err := s.pool.QueryRow(ctx, `
SELECT run_id, task_id::text, status, state_json, plan_json, tool_results_json, verification_json, output, created_at, updated_at
FROM `+runsTable+`
WHERE task_id = $1
ORDER BY created_at DESC, run_id DESC
LIMIT 1
`, taskID).Scan(&run.RunID, &run.TaskID, &status, &stateJSON, &planJSON, &resultsJSON,
		&verificationJSON, &run.Output, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return task.Run{}, task.ErrTaskRunNotFound
		}
		return task.Run{}, fmt.Errorf("get latest task run: %w", err)
	}
	run.Status = task.Status(status)

	for _, field := range []struct {
		raw  []byte
		into any
	}{
		{stateJSON, &run.State},
		{planJSON, &run.Plan},
		{resultsJSON, &run.ToolResults},
		{verificationJSON, &run.Verification},
	} {
		if len(field.raw) == 0 {
			continue
		}
		if err := jsonx.Unmarshal(field.raw, field.into); err != nil {
			s.logger.Warn("task %s: decode run %d column failed: %v", taskID, run.RunID, err)
		}
	}
	return run, nil
}

// validTaskID reports whether id can be a task_id; anything else cannot exist
// in the UUID column and is treated as not found.
func validTaskID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation
}

func scanRecord(row pgx.Row) (task.Record, error) {
	var (
		rec                           task.Record
		status                        string
		contextJSON, verificationJSON []byte
	)
	if err := row.Scan(&rec.TaskID, &rec.Prompt, &contextJSON, &status, &rec.Output,
		&verificationJSON, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return task.Record{}, task.ErrTaskNotFound
		}
		return task.Record{}, fmt.Errorf("scan task: %w", err)
	}
	rec.Status = task.Status(status)
	rec.Context = map[string]string{}
	if len(contextJSON) > 0 {
		if err := jsonx.Unmarshal(contextJSON, &rec.Context); err != nil {
			return task.Record{}, fmt.Errorf("decode task context: %w", err)
		}
	}
	if len(verificationJSON) > 0 {
		if err := jsonx.Unmarshal(verificationJSON, &rec.Verification); err != nil {
			return task.Record{}, fmt.Errorf("decode task verification: %w", err)
		}
	}
	return rec, nil
}

func marshalOr(value any, empty string) ([]byte, error) {
	encoded, err := jsonx.Marshal(value)
	if err != nil {
		return nil, err
	}
	if string(encoded) == "null" {
		return []byte(empty), nil
	}
	return encoded, nil
}

var _ task.Store = (*PostgresStore)(nil)
