package clickhouse

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizagents/internal/audit"
	"bizagents/internal/testsupport"
)

func TestAuditRow_RoundTripKeepsDetails(t *testing.T) {
	runID := uuid.New()
	e := audit.Entry{
		ID:        uuid.New(),
		Timestamp: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Kind:      audit.KindStepFailure,
		Subject:   "data_product",
		Workflow:  "weekly_review",
		RunID:     runID,
		Details:   map[string]any{"step_index": 2, "kind": "timeout"},
	}

	row, err := toAuditRow(e)
	require.NoError(t, err)
	assert.Equal(t, int32(2), row.StepIndex)
	assert.Equal(t, "step_failure", row.Kind)

	back, err := row.entry()
	require.NoError(t, err)
	assert.Equal(t, e.ID, back.ID)
	assert.Equal(t, runID, back.RunID)
	assert.Equal(t, 2, back.StepIndex())
	assert.Equal(t, "timeout", back.Details["kind"])
}

func TestAuditRow_NoDetails(t *testing.T) {
	row, err := toAuditRow(audit.Entry{Kind: audit.KindRegistration, Subject: "data_governance"})
	require.NoError(t, err)
	assert.Equal(t, "{}", row.Details)
	assert.Equal(t, int32(-1), row.StepIndex)

	back, err := row.entry()
	require.NoError(t, err)
	assert.Nil(t, back.Details)
}

func TestBuildAuditQuery(t *testing.T) {
	t.Run("no filter", func(t *testing.T) {
		q, args := buildAuditQuery("audit_entries", audit.Filter{}, 0)
		assert.Equal(t, "SELECT id, timestamp, kind, subject, workflow, run_id, step_index, details FROM audit_entries ORDER BY timestamp, id", q)
		assert.Empty(t, args)
	})

	t.Run("all fields", func(t *testing.T) {
		since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		until := since.Add(time.Hour)
		runID := uuid.New()
		q, args := buildAuditQuery("audit_entries", audit.Filter{
			Subject:  "deep_analysis",
			Workflow: "root_cause",
			RunID:    runID,
			Kinds:    []audit.Kind{audit.KindStepStart, audit.KindStepSuccess},
			Since:    since,
			Until:    until,
		}, 50)

		assert.Contains(t, q, "WHERE subject = ? AND workflow = ? AND run_id = ? AND kind IN (?, ?) AND timestamp >= ? AND timestamp < ?")
		assert.True(t, strings.HasSuffix(q, " LIMIT 50"))
		assert.Equal(t, []any{"deep_analysis", "root_cause", runID, "step_start", "step_success", since, until}, args)
	})
}

func TestAuditRepository_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	helper := testsupport.NewClickHouseTestHelper(t, testsupport.LoadBackendConfigsFromEnv(t, "CLICKHOUSE_HOST").ClickHouse)
	table := helper.TempTableName(t, "audit_entries")
	ctx := context.Background()

	repo := NewAuditRepository(helper.Client().Conn(), AuditRepositoryConfig{Table: table, MaxBatchSize: 10})
	require.NoError(t, repo.EnsureTable(ctx))

	runID := uuid.New()
	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, kind := range []audit.Kind{audit.KindWorkflowStart, audit.KindStepStart, audit.KindStepSuccess, audit.KindWorkflowComplete} {
		require.NoError(t, repo.Write(ctx, audit.Entry{
			ID:        uuid.New(),
			Timestamp: base.Add(time.Duration(i) * time.Millisecond),
			Kind:      kind,
			Subject:   "data_governance",
			Workflow:  "glossary",
			RunID:     runID,
		}))
	}
	require.NoError(t, repo.Stop(ctx))

	got, err := repo.Query(ctx, audit.Filter{RunID: runID, Kinds: []audit.Kind{audit.KindStepStart, audit.KindStepSuccess}}, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, audit.KindStepStart, got[0].Kind)
	assert.Equal(t, audit.KindStepSuccess, got[1].Kind)
}
