package workflow_run

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"bizagents/internal/orchestration"
	"bizagents/pkg/errors"
)

// Run is the stored form of a finished workflow run
type Run struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	Workflow    string          `db:"workflow" json:"workflow"`
	Status      string          `db:"status" json:"status"`
	StepsRun    int             `db:"steps_run" json:"steps_run"`
	FailedSteps int             `db:"failed_steps" json:"failed_steps"`
	StartedAt   time.Time       `db:"started_at" json:"started_at"`
	CompletedAt time.Time       `db:"completed_at" json:"completed_at"`
	DurationMs  int64           `db:"duration_ms" json:"duration_ms"`
	Result      json.RawMessage `db:"result" json:"result"`
}

// FromResult converts an engine result into a Run
func FromResult(r *orchestration.WorkflowResult) (*Run, error) {
	if r == nil || r.RunID == uuid.Nil {
		return nil, errors.Wrap(errors.ErrInvalidInput, "workflow result without run id")
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal result of run %s", r.RunID)
	}
	return &Run{
		ID:          r.RunID,
		Workflow:    r.Workflow,
		Status:      string(r.Status),
		StepsRun:    len(r.StepOutcomes),
		FailedSteps: len(r.Failures()),
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		DurationMs:  r.Duration().Milliseconds(),
		Result:      data,
	}, nil
}

// Decode returns the full engine result stored in the run
func (r *Run) Decode() (*orchestration.WorkflowResult, error) {
	var out orchestration.WorkflowResult
	if err := json.Unmarshal(r.Result, &out); err != nil {
		return nil, errors.Wrapf(err, "unmarshal result of run %s", r.ID)
	}
	return &out, nil
}
