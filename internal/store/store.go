// Package store provides interchangeable persistence backings for task
// records. The durable backings survive a process restart; the in-memory one
// exists for fast iteration and tests. All implementations satisfy the same
// contract so the task manager is agnostic to which is wired in.
package store

import (
	"errors"

	"github.com/indexops/recalc/internal/task"
)

var ErrNotFound = errors.New("task not found")

type Store interface {
	// Put writes the full task record. It must be atomic with respect to a
	// process crash: a write in progress never leaves a previously valid
	// record unreadable or half-written.
	Put(t *task.Task) error
	Get(id string) (*task.Task, error)
	List() ([]*task.Task, error)
	Delete(id string) error
}
