package errors

import (
	"context"
)

// Tracker defines the interface for error tracking services (Sentry or no-op)
type Tracker interface {
	// CaptureError sends an error to the tracking service
	CaptureError(ctx context.Context, err error, tags map[string]string) error

	// CaptureMessage sends a message to the tracking service
	CaptureMessage(ctx context.Context, message string, level Level, tags map[string]string) error

	// AddBreadcrumb records a lifecycle or workflow event leading up to a failure
	AddBreadcrumb(ctx context.Context, message string, category string, level Level, data map[string]interface{})

	// Flush waits for all pending events to be sent
	Flush(ctx context.Context) error
}

// Level represents the severity level of an error or message
type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
	LevelFatal   Level = "fatal"
)

// String returns the string representation of the level
func (l Level) String() string {
	return string(l)
}

type ctxKey string

const (
	runIDKey    ctxKey = "run_id"
	workflowKey ctxKey = "workflow"
)

// WithRun tags ctx with the workflow run so trackers can attach it to captured errors
func WithRun(ctx context.Context, workflow, runID string) context.Context {
	ctx = context.WithValue(ctx, workflowKey, workflow)
	return context.WithValue(ctx, runIDKey, runID)
}

// RunFromContext returns workflow name and run id stored by WithRun
func RunFromContext(ctx context.Context) (workflow, runID string) {
	if ctx == nil {
		return "", ""
	}
	workflow, _ = ctx.Value(workflowKey).(string)
	runID, _ = ctx.Value(runIDKey).(string)
	return workflow, runID
}
