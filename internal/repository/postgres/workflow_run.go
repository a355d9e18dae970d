package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"bizagents/internal/domain/workflow_run"
	"bizagents/pkg/errors"
)

// Compile-time check
var _ workflow_run.Repository = (*WorkflowRunRepository)(nil)

// WorkflowRunRepository implements workflow_run.Repository using sqlx
type WorkflowRunRepository struct {
	db DBTX
}

// NewWorkflowRunRepository creates a new workflow run repository
func NewWorkflowRunRepository(db DBTX) *WorkflowRunRepository {
	return &WorkflowRunRepository{db: db}
}

// EnsureSchema creates the workflow_runs table and its indexes
func (r *WorkflowRunRepository) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS workflow_runs (
			id UUID PRIMARY KEY,
			workflow TEXT NOT NULL,
			status TEXT NOT NULL,
			steps_run INT NOT NULL,
			failed_steps INT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ NOT NULL,
			duration_ms BIGINT NOT NULL,
			result JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_runs_workflow_started ON workflow_runs (workflow, started_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_runs_started ON workflow_runs (started_at DESC)`,
	}
	for _, stmt := range statements {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to migrate workflow_runs")
		}
	}
	return nil
}

// Save inserts a run; an existing id is left untouched.
// result is passed as text: lib/pq would send []byte as bytea.
func (r *WorkflowRunRepository) Save(ctx context.Context, run *workflow_run.Run) error {
	query := `
		INSERT INTO workflow_runs (
			id, workflow, status, steps_run, failed_steps,
			started_at, completed_at, duration_ms, result
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb)
		ON CONFLICT (id) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query,
		run.ID, run.Workflow, run.Status, run.StepsRun, run.FailedSteps,
		run.StartedAt, run.CompletedAt, run.DurationMs, string(run.Result),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to insert workflow run %s", run.ID)
	}
	return nil
}

// GetByID retrieves a run by id
func (r *WorkflowRunRepository) GetByID(ctx context.Context, id uuid.UUID) (*workflow_run.Run, error) {
	var run workflow_run.Run

	query := `SELECT * FROM workflow_runs WHERE id = $1`

	err := r.db.GetContext(ctx, &run, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "workflow run %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get workflow run %s", id)
	}

	return &run, nil
}

// ListRecent returns runs newest first, optionally of one workflow
func (r *WorkflowRunRepository) ListRecent(ctx context.Context, workflow string, limit int) ([]*workflow_run.Run, error) {
	var runs []*workflow_run.Run

	query := `
		SELECT * FROM workflow_runs
		WHERE ($1 = '' OR workflow = $1)
		ORDER BY started_at DESC
		LIMIT $2`

	if err := r.db.SelectContext(ctx, &runs, query, workflow, limit); err != nil {
		return nil, errors.Wrap(err, "failed to list workflow runs")
	}

	return runs, nil
}
