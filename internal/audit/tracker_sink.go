package audit

import (
	"context"
	"fmt"

	"bizagents/pkg/errors"
)

// TrackerSink forwards entries to an error tracker: every entry becomes a
// breadcrumb, failures are captured as events.
type TrackerSink struct {
	tracker errors.Tracker
}

var _ Sink = (*TrackerSink)(nil)

// NewTrackerSink creates the sink
func NewTrackerSink(tracker errors.Tracker) *TrackerSink {
	return &TrackerSink{tracker: tracker}
}

// Name implements Sink
func (s *TrackerSink) Name() string {
	return "tracker"
}

// Write implements Sink
func (s *TrackerSink) Write(ctx context.Context, e Entry) error {
	level := errors.LevelInfo
	switch e.Kind {
	case KindStepFailure, KindConstructFailed, KindCycleDetected:
		level = errors.LevelError
	case KindStepStart, KindStepSuccess:
		level = errors.LevelDebug
	}

	s.tracker.AddBreadcrumb(ctx, e.Kind.String()+" "+e.Subject, "audit", level, e.Details)
	if level != errors.LevelError {
		return nil
	}

	// caller-side outcomes, not faults
	switch kind, _ := e.Details["kind"].(string); kind {
	case "canceled", "validation":
		return nil
	}

	tags := map[string]string{"audit_kind": e.Kind.String(), "subject": e.Subject}
	if e.Workflow != "" {
		tags["workflow"] = e.Workflow
		tags["run_id"] = e.RunID.String()
	}
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Subject)
	if reason, ok := e.Details["error"].(string); ok {
		msg += ": " + reason
	}
	return s.tracker.CaptureMessage(ctx, msg, errors.LevelError, tags)
}
