package workflow_run

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the durable store of finished runs
type Repository interface {
	// Save stores a run. Saving the same id twice is a no-op.
	Save(ctx context.Context, run *Run) error

	// GetByID returns errors.ErrNotFound when the run is unknown
	GetByID(ctx context.Context, id uuid.UUID) (*Run, error)

	// ListRecent returns runs newest first; an empty workflow matches all
	ListRecent(ctx context.Context, workflow string, limit int) ([]*Run, error)
}

// Cache keeps recently finished runs for fast lookups
type Cache interface {
	Put(ctx context.Context, run *Run) error

	// Get returns errors.ErrNotFound on a miss
	Get(ctx context.Context, id uuid.UUID) (*Run, error)
}
