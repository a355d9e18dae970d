package audit

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizagents/pkg/errors"
)

type recordingTracker struct {
	breadcrumbs []string
	levels      []errors.Level
	messages    []string
	tags        []map[string]string
}

func (t *recordingTracker) CaptureError(context.Context, error, map[string]string) error { return nil }

func (t *recordingTracker) CaptureMessage(ctx context.Context, msg string, level errors.Level, tags map[string]string) error {
	t.messages = append(t.messages, msg)
	t.tags = append(t.tags, tags)
	return nil
}

func (t *recordingTracker) AddBreadcrumb(ctx context.Context, msg, category string, level errors.Level, data map[string]interface{}) {
	t.breadcrumbs = append(t.breadcrumbs, msg)
	t.levels = append(t.levels, level)
}

func (t *recordingTracker) Flush(context.Context) error { return nil }

func TestTrackerSink(t *testing.T) {
	tr := &recordingTracker{}
	sink := NewTrackerSink(tr)
	ctx := context.Background()
	runID := uuid.New()

	require.NoError(t, sink.Write(ctx, Entry{Kind: KindConnect, Subject: "data_governance"}))
	require.NoError(t, sink.Write(ctx, Entry{Kind: KindStepStart, Subject: "deep_analysis", Workflow: "review", RunID: runID}))
	require.NoError(t, sink.Write(ctx, Entry{
		Kind: KindStepFailure, Subject: "deep_analysis", Workflow: "review", RunID: runID,
		Details: map[string]any{"kind": "runtime", "error": "gemini generate content: 503"},
	}))
	require.NoError(t, sink.Write(ctx, Entry{
		Kind: KindStepFailure, Subject: "deep_analysis", Workflow: "review", RunID: runID,
		Details: map[string]any{"kind": "canceled", "error": "context canceled"},
	}))

	assert.Equal(t, []string{"connect data_governance", "step_start deep_analysis", "step_failure deep_analysis", "step_failure deep_analysis"}, tr.breadcrumbs)
	assert.Equal(t, []errors.Level{errors.LevelInfo, errors.LevelDebug, errors.LevelError, errors.LevelError}, tr.levels)

	require.Len(t, tr.messages, 1, "canceled steps are not captured")
	assert.Equal(t, "step_failure: deep_analysis: gemini generate content: 503", tr.messages[0])
	assert.Equal(t, runID.String(), tr.tags[0]["run_id"])
	assert.Equal(t, "review", tr.tags[0]["workflow"])
}
