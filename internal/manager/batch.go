package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/indexops/recalc/internal/task"
)

// BeginBatch transitions a pending batch parent to running. Parents never take
// a concurrency slot; their currently-running child does.
func (m *TaskManager) BeginBatch(id string) error {
	m.mu.Lock()

	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if t.Kind != task.KindBatch {
		m.mu.Unlock()
		return &ValidationError{Reason: fmt.Sprintf("task %s is not a batch", id)}
	}
	if t.Status != task.StatusPending {
		m.mu.Unlock()
		return fmt.Errorf("batch %s is %s, not pending", id, t.Status)
	}

	now := time.Now()
	t.Status = task.StatusRunning
	t.StartedAt = &now
	t.Message = "Starting batch..."
	m.persistLocked(t)
	snap := t.Clone()
	m.mu.Unlock()

	m.record("transition", m.recorder.RecordTransition(context.Background(), snap))
	return nil
}

// CompleteBatch applies the batch parent's terminal state from its aggregated
// result: completed when the orchestration ran every child, failed only when
// the orchestration itself errored.
func (m *TaskManager) CompleteBatch(id string, res *task.Result, message string) error {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if t.Kind != task.KindBatch {
		m.mu.Unlock()
		return &ValidationError{Reason: fmt.Sprintf("task %s is not a batch", id)}
	}
	m.mu.Unlock()

	status := task.StatusCompleted
	if !res.Succeeded() {
		status = task.StatusFailed
	}
	m.finish(id, status, res, message)
	return nil
}
