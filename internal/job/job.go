// Package job defines the contract a long-running unit of work must satisfy
// and the registry that maps descriptor types to implementations.
package job

import "context"

// ProgressFunc reports execution progress back to the orchestrator.
// Percent is clamped to 0-100 and never regresses the observable value.
type ProgressFunc func(percent int, message string)

// Job is the unit of executable work a task wraps. Implementations must be
// safe to invoke from a non-main goroutine and must not assume any ambient
// state beyond what params supplies. A well-behaved job polls ctx and returns
// early when it is cancelled, but that is advisory only.
type Job interface {
	Execute(ctx context.Context, params map[string]any, report ProgressFunc) (map[string]any, error)
}

// Func adapts a plain function to the Job interface.
type Func func(ctx context.Context, params map[string]any, report ProgressFunc) (map[string]any, error)

func (f Func) Execute(ctx context.Context, params map[string]any, report ProgressFunc) (map[string]any, error) {
	return f(ctx, params, report)
}
