package workflow_run

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	"bizagents/internal/orchestration"
	"bizagents/pkg/errors"
	"bizagents/pkg/logger"
)

const (
	defaultMemoryRuns = 256
	maxListLimit      = 500
)

// Service records finished runs and serves them back. Repository and Cache
// are optional; the last runs are always kept in memory so lookups work
// without any backend.
type Service struct {
	repo  Repository
	cache Cache

	mu     sync.RWMutex
	memory []*Run // oldest first
	size   int

	log *logger.Logger
}

var _ orchestration.ResultHandler = (*Service)(nil)

// NewService creates the service; repo and cache may be nil
func NewService(repo Repository, cache Cache) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
		size:  defaultMemoryRuns,
		log:   logger.Component("workflow_run_service"),
	}
}

// HandleResult implements orchestration.ResultHandler
func (s *Service) HandleResult(ctx context.Context, result *orchestration.WorkflowResult) error {
	return s.Record(ctx, result)
}

// Record stores a finished run in memory, the repository and the cache.
// A cache failure is logged; a repository failure is returned.
func (s *Service) Record(ctx context.Context, result *orchestration.WorkflowResult) error {
	run, err := FromResult(result)
	if err != nil {
		return err
	}

	s.remember(run)

	if s.cache != nil {
		if err := s.cache.Put(ctx, run); err != nil {
			s.log.Warnw("Failed to cache workflow run", "run_id", run.ID, "error", err)
		}
	}
	if s.repo != nil {
		if err := s.repo.Save(ctx, run); err != nil {
			return errors.Wrapf(err, "save run %s", run.ID)
		}
	}
	return nil
}

// Get looks the run up in memory, then the cache, then the repository
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Run, error) {
	if id == uuid.Nil {
		return nil, errors.ErrInvalidInput
	}

	if run, ok := s.fromMemory(id); ok {
		return run, nil
	}

	if s.cache != nil {
		run, err := s.cache.Get(ctx, id)
		if err == nil {
			return run, nil
		}
		if !errors.Is(err, errors.ErrNotFound) {
			s.log.Warnw("Workflow run cache lookup failed", "run_id", id, "error", err)
		}
	}

	if s.repo == nil {
		return nil, errors.Wrapf(errors.ErrNotFound, "run %s", id)
	}
	run, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Put(ctx, run); err != nil {
			s.log.Debugw("Failed to backfill run cache", "run_id", id, "error", err)
		}
	}
	return run, nil
}

// ListRecent returns the newest runs, optionally of one workflow
func (s *Service) ListRecent(ctx context.Context, workflow string, limit int) ([]*Run, error) {
	if limit <= 0 || limit > maxListLimit {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "limit must be within 1..%d", maxListLimit)
	}
	if s.repo != nil {
		return s.repo.ListRecent(ctx, workflow, limit)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Run
	for _, run := range slices.Backward(s.memory) {
		if workflow != "" && run.Workflow != workflow {
			continue
		}
		out = append(out, run)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Service) remember(run *Run) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.memory = append(s.memory, run)
	if over := len(s.memory) - s.size; over > 0 {
		s.memory = slices.Delete(s.memory, 0, over)
	}
}

func (s *Service) fromMemory(id uuid.UUID) (*Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, run := range slices.Backward(s.memory) {
		if run.ID == id {
			return run, true
		}
	}
	return nil, false
}
