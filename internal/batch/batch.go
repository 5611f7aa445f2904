// Package batch sequences multiple jobs through the task manager as one
// logical unit. Children run strictly one after another: heavyweight report
// generation jobs contend for the same source files, so the runner trades
// throughput for isolation.
package batch

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/indexops/recalc/internal/manager"
	"github.com/indexops/recalc/internal/metrics"
	"github.com/indexops/recalc/internal/task"
)

// Notifier is told when a batch reaches a terminal state. Implementations must
// not block the runner for long.
type Notifier interface {
	BatchCompleted(ctx context.Context, t *task.Task)
}

type Runner struct {
	manager  *manager.TaskManager
	poll     time.Duration
	notifier Notifier
}

func NewRunner(m *manager.TaskManager) *Runner {
	return &Runner{
		manager: m,
		poll:    250 * time.Millisecond,
	}
}

func (r *Runner) SetPollInterval(d time.Duration) {
	r.poll = d
}

func (r *Runner) SetNotifier(n Notifier) {
	r.notifier = n
}

// Submit deduplicates the children by key, creates the parent batch task and
// starts the sequential run in the background. It returns the parent task id
// immediately.
func (r *Runner) Submit(children []task.Child) (string, error) {
	unique := dedupe(children)
	if len(unique) != len(children) {
		log.Printf("Removed %d duplicate batch entries", len(children)-len(unique))
	}

	id, err := r.manager.CreateBatch(unique)
	if err != nil {
		return "", err
	}

	go r.run(id, unique)
	return id, nil
}

// dedupe drops repeated dedup keys, preserving first-occurrence order.
func dedupe(children []task.Child) []task.Child {
	seen := make(map[string]bool, len(children))
	unique := make([]task.Child, 0, len(children))
	for _, c := range children {
		if seen[c.Key] {
			continue
		}
		seen[c.Key] = true
		unique = append(unique, c)
	}
	return unique
}

func (r *Runner) run(parentID string, children []task.Child) {
	ctx := context.Background()

	if err := r.manager.BeginBatch(parentID); err != nil {
		// Cancelled before the run started, or already resolved.
		log.Printf("Batch %s did not start: %v", parentID, err)
		return
	}

	total := len(children)
	results := make([]task.ChildResult, 0, total)
	succeeded := 0

	for i, c := range children {
		r.manager.Progress(parentID, i*100/total, fmt.Sprintf("Processing %s (%d/%d)", c.Key, i+1, total))

		child, err := r.runChild(ctx, c)
		if err != nil {
			// The orchestration itself broke, not the child's job. Stop here
			// and fail the parent.
			r.fail(parentID, fmt.Errorf("batch entry %s: %w", c.Key, err))
			return
		}

		results = append(results, task.ChildResult{
			Key:         c.Key,
			TaskID:      child.ID,
			Status:      child.Status,
			Message:     child.Message,
			Result:      child.Result,
			CompletedAt: child.CompletedAt,
		})
		if child.Status == task.StatusCompleted {
			succeeded++
		}

		r.manager.Progress(parentID, (i+1)*100/total, fmt.Sprintf("Completed %s (%d/%d)", c.Key, i+1, total))
	}

	summary := task.BatchSummary{Total: total, Succeeded: succeeded, Failed: total - succeeded}
	res := task.Success(map[string]any{
		"summary": summary,
		"results": results,
	})
	message := fmt.Sprintf("Batch completed: %d/%d successful", succeeded, total)

	if err := r.manager.CompleteBatch(parentID, res, message); err != nil {
		log.Printf("Failed to complete batch %s: %v", parentID, err)
		return
	}
	metrics.RecordBatchCompleted(summary)
	r.notify(ctx, parentID)
}

// runChild submits one child and waits for it to reach a terminal state before
// the caller moves on to the next one.
func (r *Runner) runChild(ctx context.Context, c task.Child) (*task.Task, error) {
	id, err := r.manager.Create(c.Job)
	if err != nil {
		return nil, err
	}
	if err := r.manager.Start(id); err != nil {
		return nil, err
	}
	return r.manager.Wait(ctx, id, r.poll)
}

func (r *Runner) fail(parentID string, err error) {
	res := task.Failed(task.FailureOrchestration, err.Error(), "")
	if completeErr := r.manager.CompleteBatch(parentID, res, "Batch execution failed: "+err.Error()); completeErr != nil {
		log.Printf("Failed to fail batch %s: %v", parentID, completeErr)
		return
	}
	r.notify(context.Background(), parentID)
}

func (r *Runner) notify(ctx context.Context, parentID string) {
	if r.notifier == nil {
		return
	}
	t, err := r.manager.Get(parentID)
	if err != nil {
		log.Printf("Failed to load batch %s for notification: %v", parentID, err)
		return
	}
	r.notifier.BatchCompleted(ctx, t)
}
