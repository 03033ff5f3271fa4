package audit

import (
	"context"
	"fmt"

	"github.com/evolutive/statusflow/internal/logger"
)

// Recorder writes audit events to the durable store and mirrors every
// event to the structured log. The structured log is the best-effort
// secondary channel: if the store write fails for an info or warning
// event, the failure is logged and swallowed so batch work can continue.
// A failed store write for an error-level event is returned to the
// caller, because losing the error trail means the operator must be told
// through a failed run.
type Recorder struct {
	store     Store
	dbEnabled bool
}

// NewRecorder creates a Recorder. dbEnabled mirrors the database-logging
// toggle; when false, events only reach the structured log.
func NewRecorder(store Store, dbEnabled bool) *Recorder {
	return &Recorder{
		store:     store,
		dbEnabled: dbEnabled,
	}
}

// Info records an info-level event
func (r *Recorder) Info(ctx context.Context, msg, subjectType string, subjectID int64, ruleID *int64, context map[string]any) error {
	return r.record(ctx, LevelInfo, msg, subjectType, subjectID, ruleID, context)
}

// Warning records a warning-level event
func (r *Recorder) Warning(ctx context.Context, msg, subjectType string, subjectID int64, ruleID *int64, context map[string]any) error {
	return r.record(ctx, LevelWarning, msg, subjectType, subjectID, ruleID, context)
}

// Error records an error-level event
func (r *Recorder) Error(ctx context.Context, msg, subjectType string, subjectID int64, ruleID *int64, context map[string]any) error {
	return r.record(ctx, LevelError, msg, subjectType, subjectID, ruleID, context)
}

func (r *Recorder) record(ctx context.Context, level Level, msg, subjectType string, subjectID int64, ruleID *int64, eventCtx map[string]any) error {
	logArgs := []any{
		"subject_type", subjectType,
		"subject_id", subjectID,
	}
	if ruleID != nil {
		logArgs = append(logArgs, "rule_id", *ruleID)
	}
	for k, v := range eventCtx {
		logArgs = append(logArgs, k, v)
	}

	switch level {
	case LevelWarning:
		logger.Warn(msg, logArgs...)
	case LevelError:
		logger.Error(msg, logArgs...)
	default:
		logger.Info(msg, logArgs...)
	}

	if !r.dbEnabled {
		return nil
	}

	event := &Event{
		Level:       level,
		Message:     msg,
		SubjectType: subjectType,
		SubjectID:   subjectID,
		RuleID:      ruleID,
		Context:     eventCtx,
	}

	if _, err := r.store.Add(ctx, event); err != nil {
		logger.Error("failed to persist audit event",
			"level", string(level),
			"message", msg,
			"error", err,
		)

		// Losing an error-level event means the audit trail is down
		if level == LevelError {
			return fmt.Errorf("failed to persist error-level audit event: %w", err)
		}
	}

	return nil
}
