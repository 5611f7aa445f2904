// Package history records an audit trail of task lifecycle transitions and
// per-run execution outcomes, separate from the authoritative task store.
// Recording failures are reported to the caller but must never influence
// orchestration.
package history

import (
	"context"

	"github.com/indexops/recalc/internal/task"
)

type Recorder interface {
	RecordCreated(ctx context.Context, t *task.Task) error
	RecordTransition(ctx context.Context, t *task.Task) error
	LogExecution(ctx context.Context, taskID string, status task.Status, durationMs int64, errMsg string) error
	Close() error
}

// NopRecorder is wired in when no history database is configured.
type NopRecorder struct{}

func (NopRecorder) RecordCreated(context.Context, *task.Task) error { return nil }

func (NopRecorder) RecordTransition(context.Context, *task.Task) error { return nil }

func (NopRecorder) LogExecution(context.Context, string, task.Status, int64, string) error {
	return nil
}

func (NopRecorder) Close() error { return nil }
