package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nexuslab/dispatch/internal/core/domain"
)

// TaskRecord is a task lifecycle row in the status store.
type TaskRecord struct {
	TaskID      string         `db:"task_id"`
	TaskType    string         `db:"task_type"`
	Status      string         `db:"status"`
	RetryCount  int            `db:"retry_count"`
	FailureCode sql.NullString `db:"failure_code"`
	LastError   sql.NullString `db:"last_error"`
	RequestedBy sql.NullString `db:"requested_by"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

// TaskRepo persists task status transitions in PostgreSQL.
type TaskRepo struct {
	db *DB
}

// NewTaskRepo creates a new PostgreSQL task repository.
func NewTaskRepo(db *DB) *TaskRepo {
	return &TaskRepo{db: db}
}

// Upsert records a task's current status, inserting on first sight.
func (r *TaskRepo) Upsert(ctx context.Context, e *domain.TaskEnvelope, status domain.TaskStatus) error {
	query := `
		INSERT INTO tasks (task_id, task_type, status, retry_count, failure_code, last_error, requested_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), NOW(), NOW())
		ON CONFLICT (task_id) DO UPDATE SET
			status = EXCLUDED.status,
			retry_count = EXCLUDED.retry_count,
			failure_code = EXCLUDED.failure_code,
			last_error = EXCLUDED.last_error,
			updated_at = NOW()
	`
	_, err := r.db.ExecContext(
		ctx,
		query,
		e.TaskID,
		string(e.TaskType),
		string(status),
		e.RetryCount,
		e.FailureCode,
		e.LastError,
		e.RequestedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert task %s: %w", e.TaskID, err)
	}
	return nil
}

// Get returns the task row, or nil when unknown.
func (r *TaskRepo) Get(ctx context.Context, taskID string) (*TaskRecord, error) {
	query := `
		SELECT task_id, task_type, status, retry_count, failure_code, last_error, requested_by, created_at, updated_at
		FROM tasks
		WHERE task_id = $1
	`
	var rec TaskRecord
	err := r.db.GetContext(ctx, &rec, query, taskID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", taskID, err)
	}
	return &rec, nil
}

// ListByStatus returns tasks in a given state, newest first.
func (r *TaskRepo) ListByStatus(ctx context.Context, status domain.TaskStatus, limit int) ([]*TaskRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT task_id, task_type, status, retry_count, failure_code, last_error, requested_by, created_at, updated_at
		FROM tasks
		WHERE status = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`
	var rows []*TaskRecord
	if err := r.db.SelectContext(ctx, &rows, query, string(status), limit); err != nil {
		return nil, fmt.Errorf("failed to list tasks by status: %w", err)
	}
	return rows, nil
}

// CountByStatus returns per-status task counts for the health endpoint.
func (r *TaskRepo) CountByStatus(ctx context.Context) (map[string]int, error) {
	query := `SELECT status, COUNT(*) AS n FROM tasks GROUP BY status`
	var rows []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.N
	}
	return counts, nil
}
