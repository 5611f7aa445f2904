package manager

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/indexops/recalc/internal/task"
)

type outcome struct {
	payload map[string]any
	err     error
	detail  string
}

// execute is the worker-execution side of a task: it runs the resolved job in
// its own goroutine, translates progress callbacks into store updates and maps
// the outcome onto a terminal state. Errors and panics are contained to this
// task; they never reach the manager's control flow or sibling tasks.
func (m *TaskManager) execute(ctx context.Context, id string, desc task.Descriptor) {
	j, ok := m.registry.Resolve(desc.Type)
	if !ok {
		// Descriptors are validated at create, so a miss here means the
		// registry changed underneath us.
		m.finish(id, task.StatusFailed,
			task.Failed(task.FailureOrchestration, fmt.Sprintf("no job registered for type %s", desc.Type), ""),
			fmt.Sprintf("No job registered for type %s", desc.Type))
		return
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{
					err:    fmt.Errorf("job panicked: %v", r),
					detail: string(debug.Stack()),
				}
			}
		}()

		payload, err := j.Execute(ctx, desc.Params, func(percent int, message string) {
			m.Progress(id, percent, message)
		})
		done <- outcome{payload: payload, err: err}
	}()

	var timeout <-chan time.Time
	if m.cfg.TaskTimeout > 0 {
		timer := time.NewTimer(m.cfg.TaskTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case out := <-done:
		if out.err != nil {
			m.finish(id, task.StatusFailed,
				task.Failed(task.FailureJob, out.err.Error(), out.detail),
				"Task execution failed: "+out.err.Error())
			return
		}
		m.finish(id, task.StatusCompleted, task.Success(out.payload), "Task completed successfully")

	case <-timeout:
		// The job goroutine may keep running; finish cancels its context and
		// drops whatever it eventually returns.
		m.finish(id, task.StatusFailed,
			task.Failed(task.FailureTimeout, fmt.Sprintf("task exceeded timeout of %s", m.cfg.TaskTimeout), ""),
			fmt.Sprintf("Task timed out after %s", m.cfg.TaskTimeout))
	}
}
