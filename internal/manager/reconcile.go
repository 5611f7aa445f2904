package manager

import (
	"context"
	"log"
	"time"

	"github.com/indexops/recalc/internal/task"
)

// Reconcile loads all persisted tasks and resolves any left non-terminal by a
// prior crash: a task found pending or running is forcibly failed, so a crash
// mid-execution can never leave a task appearing perpetually in flight. It
// runs once, before the manager accepts new work.
func (m *TaskManager) Reconcile() error {
	persisted, err := m.store.List()
	if err != nil {
		return err
	}

	interrupted := make([]*task.Task, 0)

	m.mu.Lock()
	for _, t := range persisted {
		if !t.Terminal() {
			now := time.Now()
			t.Status = task.StatusFailed
			t.Message = "Task interrupted by restart"
			t.CompletedAt = &now
			t.Progress = 0
			t.Result = task.Failed(task.FailureInterrupted, "task interrupted by restart", "")
			m.persistLocked(t)
			interrupted = append(interrupted, t.Clone())
		}
		m.tasks[t.ID] = t
	}
	m.mu.Unlock()

	for _, t := range interrupted {
		m.record("transition", m.recorder.RecordTransition(context.Background(), t))
	}
	if len(interrupted) > 0 {
		log.Printf("Marked %d interrupted tasks as failed after restart", len(interrupted))
	}

	return nil
}
