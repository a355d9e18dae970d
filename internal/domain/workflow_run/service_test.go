package workflow_run

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"bizagents/internal/orchestration"
	"bizagents/pkg/errors"
	"bizagents/pkg/logger"
)

// MockRepository is a mock implementation of Repository
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Save(ctx context.Context, run *Run) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockRepository) GetByID(ctx context.Context, id uuid.UUID) (*Run, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Run), args.Error(1)
}

func (m *MockRepository) ListRecent(ctx context.Context, workflow string, limit int) ([]*Run, error) {
	args := m.Called(ctx, workflow, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Run), args.Error(1)
}

// MockCache is a mock implementation of Cache
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Put(ctx context.Context, run *Run) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockCache) Get(ctx context.Context, id uuid.UUID) (*Run, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Run), args.Error(1)
}

func newService(repo Repository, cache Cache) *Service {
	s := NewService(repo, cache)
	s.log = logger.Nop()
	return s
}

func sampleResult(workflow string) *orchestration.WorkflowResult {
	start := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	return &orchestration.WorkflowResult{
		RunID:    uuid.New(),
		Workflow: workflow,
		Status:   orchestration.StatusPartialSuccess,
		StepOutcomes: []orchestration.StepOutcome{
			{Index: 0, AgentName: "data_product", MethodName: "load", Output: orchestration.Payload{"kpis": 3.0}},
			{Index: 1, AgentName: "situation_awareness", MethodName: "detect", Error: &orchestration.StepError{
				Message: "llm unavailable", AgentName: "situation_awareness", StepIndex: 1, Kind: orchestration.KindRuntime,
			}},
		},
		StartedAt:   start,
		CompletedAt: start.Add(2 * time.Second),
	}
}

func TestFromResult(t *testing.T) {
	result := sampleResult("weekly_review")
	run, err := FromResult(result)
	require.NoError(t, err)

	assert.Equal(t, result.RunID, run.ID)
	assert.Equal(t, "partial_success", run.Status)
	assert.Equal(t, 2, run.StepsRun)
	assert.Equal(t, 1, run.FailedSteps)
	assert.Equal(t, int64(2000), run.DurationMs)

	back, err := run.Decode()
	require.NoError(t, err)
	assert.Equal(t, result.Workflow, back.Workflow)
	require.Len(t, back.StepOutcomes, 2)
	assert.Equal(t, orchestration.KindRuntime, back.StepOutcomes[1].Error.Kind)

	_, err = FromResult(&orchestration.WorkflowResult{})
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestService_RecordWritesBackends(t *testing.T) {
	repo := new(MockRepository)
	cache := new(MockCache)
	s := newService(repo, cache)
	result := sampleResult("weekly_review")

	cache.On("Put", mock.Anything, mock.MatchedBy(func(r *Run) bool { return r.ID == result.RunID })).Return(fmt.Errorf("redis down"))
	repo.On("Save", mock.Anything, mock.AnythingOfType("*workflow_run.Run")).Return(nil)

	require.NoError(t, s.HandleResult(context.Background(), result), "cache failures are not fatal")
	repo.AssertExpectations(t)
	cache.AssertExpectations(t)

	run, err := s.Get(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Equal(t, result.RunID, run.ID)
	repo.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}

func TestService_RecordRepositoryError(t *testing.T) {
	repo := new(MockRepository)
	repo.On("Save", mock.Anything, mock.Anything).Return(errors.ErrUnavailable)

	err := newService(repo, nil).Record(context.Background(), sampleResult("x"))
	assert.True(t, errors.Is(err, errors.ErrUnavailable))
}

func TestService_GetFallsThroughCacheToRepository(t *testing.T) {
	repo := new(MockRepository)
	cache := new(MockCache)
	s := newService(repo, cache)

	stored, err := FromResult(sampleResult("weekly_review"))
	require.NoError(t, err)

	cache.On("Get", mock.Anything, stored.ID).Return(nil, errors.ErrNotFound).Once()
	repo.On("GetByID", mock.Anything, stored.ID).Return(stored, nil).Once()
	cache.On("Put", mock.Anything, stored).Return(nil).Once()

	got, err := s.Get(context.Background(), stored.ID)
	require.NoError(t, err)
	assert.Same(t, stored, got)
	repo.AssertExpectations(t)
	cache.AssertExpectations(t)
}

func TestService_GetWithoutBackends(t *testing.T) {
	s := newService(nil, nil)

	_, err := s.Get(context.Background(), uuid.Nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	_, err = s.Get(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestService_ListRecentInMemory(t *testing.T) {
	s := newService(nil, nil)
	s.size = 3
	ctx := context.Background()

	var ids []uuid.UUID
	for _, wf := range []string{"a", "b", "a", "a"} {
		r := sampleResult(wf)
		ids = append(ids, r.RunID)
		require.NoError(t, s.Record(ctx, r))
	}

	all, err := s.ListRecent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3, "memory keeps only the newest runs")
	assert.Equal(t, ids[3], all[0].ID)
	assert.Equal(t, ids[1], all[2].ID)

	onlyA, err := s.ListRecent(ctx, "a", 1)
	require.NoError(t, err)
	require.Len(t, onlyA, 1)
	assert.Equal(t, ids[3], onlyA[0].ID)

	_, err = s.ListRecent(ctx, "", 0)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestService_ListRecentUsesRepository(t *testing.T) {
	repo := new(MockRepository)
	want := []*Run{{ID: uuid.New(), Workflow: "a"}}
	repo.On("ListRecent", mock.Anything, "a", 5).Return(want, nil)

	got, err := newService(repo, nil).ListRecent(context.Background(), "a", 5)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
