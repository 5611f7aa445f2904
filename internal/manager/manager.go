// Package manager owns the task lifecycle state machine, the concurrency gate
// and dispatch to worker execution. The in-memory task map is authoritative;
// every status change is written to the store before it becomes visible to a
// concurrent reader.
package manager

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/indexops/recalc/internal/history"
	"github.com/indexops/recalc/internal/job"
	"github.com/indexops/recalc/internal/metrics"
	"github.com/indexops/recalc/internal/store"
	"github.com/indexops/recalc/internal/task"
)

type Config struct {
	// MaxConcurrent bounds how many tasks may hold a running slot at once.
	MaxConcurrent int

	// TaskTimeout is the per-task wall-clock deadline. Zero disables it.
	TaskTimeout time.Duration

	// PersistRetries and PersistRetryDelay control background retries after a
	// store write failure. The in-memory record stays authoritative meanwhile.
	PersistRetries    int
	PersistRetryDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 3
	}
	if c.PersistRetries <= 0 {
		c.PersistRetries = 3
	}
	if c.PersistRetryDelay <= 0 {
		c.PersistRetryDelay = 250 * time.Millisecond
	}
	return c
}

type SystemStatus struct {
	RunningCount  int `json:"running_count"`
	PendingCount  int `json:"pending_count"`
	MaxConcurrent int `json:"max_concurrent"`
}

type TaskManager struct {
	store    store.Store
	registry *job.Registry
	recorder history.Recorder
	cfg      Config

	mu      sync.Mutex
	tasks   map[string]*task.Task
	queue   []string // pending task ids awaiting a slot, in creation order
	running int
	cancels map[string]context.CancelFunc
}

func New(st store.Store, registry *job.Registry, recorder history.Recorder, cfg Config) *TaskManager {
	if recorder == nil {
		recorder = history.NopRecorder{}
	}

	return &TaskManager{
		store:    st,
		registry: registry,
		recorder: recorder,
		cfg:      cfg.withDefaults(),
		tasks:    make(map[string]*task.Task),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Create allocates a task for the given descriptor and persists it as pending.
// It never blocks on execution and fails only on a bad descriptor or a store
// write failure, in which case no task is retained.
func (m *TaskManager) Create(desc task.Descriptor) (string, error) {
	if err := m.validate(desc); err != nil {
		return "", err
	}

	t := task.New(desc)
	if err := m.store.Put(t); err != nil {
		return "", fmt.Errorf("failed to persist new task: %w", err)
	}

	m.mu.Lock()
	m.tasks[t.ID] = t
	m.mu.Unlock()

	m.record("create", m.recorder.RecordCreated(context.Background(), t.Clone()))
	metrics.RecordTaskCreated(desc.Type, task.KindSingle)

	return t.ID, nil
}

// CreateBatch allocates the parent task for an ordered list of child jobs.
// Children are validated up front so a bad descriptor is rejected before any
// child runs.
func (m *TaskManager) CreateBatch(children []task.Child) (string, error) {
	if len(children) == 0 {
		return "", &ValidationError{Reason: "batch requires at least one job"}
	}
	for _, c := range children {
		if c.Key == "" {
			return "", &ValidationError{Reason: "batch child is missing a dedup key"}
		}
		if err := m.validate(c.Job); err != nil {
			return "", err
		}
	}

	t := task.NewBatch(children)
	if err := m.store.Put(t); err != nil {
		return "", fmt.Errorf("failed to persist new batch: %w", err)
	}

	m.mu.Lock()
	m.tasks[t.ID] = t
	m.mu.Unlock()

	m.record("create", m.recorder.RecordCreated(context.Background(), t.Clone()))
	metrics.RecordTaskCreated(t.Descriptor.Type, task.KindBatch)

	return t.ID, nil
}

func (m *TaskManager) validate(desc task.Descriptor) error {
	if desc.Type == "" {
		return &ValidationError{Reason: "job type is required"}
	}
	if _, ok := m.registry.Resolve(desc.Type); !ok {
		return &ValidationError{Reason: fmt.Sprintf("unknown job type: %s", desc.Type)}
	}
	return nil
}

// Start admits the task if a running slot is free, otherwise leaves it pending
// in the FIFO queue; queued tasks are admitted automatically as slots free up.
// Capacity deferral is not an error.
func (m *TaskManager) Start(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if t.Kind == task.KindBatch {
		return &ValidationError{Reason: "batch tasks are started through the batch runner"}
	}
	if t.Status != task.StatusPending {
		return nil
	}

	if m.running >= m.cfg.MaxConcurrent {
		if !m.queuedLocked(id) {
			m.queue = append(m.queue, id)
		}
		return nil
	}

	m.admitLocked(t)
	return nil
}

// Cancel transitions a pending task to cancelled. For a running task it only
// cancels the job's context; a well-behaved job returns early, any other runs
// to completion on its own terms. Terminal tasks report ErrNotCancellable.
func (m *TaskManager) Cancel(id string) error {
	m.mu.Lock()

	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}

	switch t.Status {
	case task.StatusPending:
		now := time.Now()
		t.Status = task.StatusCancelled
		t.CompletedAt = &now
		t.Message = "Task cancelled by user"
		m.dequeueLocked(id)
		m.persistLocked(t)
		snap := t.Clone()
		m.mu.Unlock()

		m.record("transition", m.recorder.RecordTransition(context.Background(), snap))
		metrics.RecordTaskCancelled(snap.Descriptor.Type)
		return nil

	case task.StatusRunning:
		cancel := m.cancels[id]
		m.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return nil

	default:
		m.mu.Unlock()
		return ErrNotCancellable
	}
}

func (m *TaskManager) Get(id string) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

func (m *TaskManager) List() []*task.Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	tasks := make([]*task.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, t.Clone())
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})

	return tasks
}

// Wait polls Get until the task reaches a terminal state. It is the waiting
// primitive the batch runner builds on.
func (m *TaskManager) Wait(ctx context.Context, id string, poll time.Duration) (*task.Task, error) {
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		t, err := m.Get(id)
		if err != nil {
			return nil, err
		}
		if t.Terminal() {
			return t, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Cleanup removes terminal tasks whose terminal timestamp is older than
// maxAge. Non-terminal and recent terminal tasks are untouched.
func (m *TaskManager) Cleanup(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, t := range m.tasks {
		if !t.Terminal() || t.CompletedAt == nil || !t.CompletedAt.Before(cutoff) {
			continue
		}
		if err := m.store.Delete(id); err != nil {
			log.Printf("Failed to delete task %s from store: %v", id, err)
			continue
		}
		delete(m.tasks, id)
		removed++
	}

	return removed, nil
}

func (m *TaskManager) SystemStatus() SystemStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending := 0
	for _, t := range m.tasks {
		if t.Status == task.StatusPending {
			pending++
		}
	}

	return SystemStatus{
		RunningCount:  m.running,
		PendingCount:  pending,
		MaxConcurrent: m.cfg.MaxConcurrent,
	}
}

// Progress applies a job's progress report. Percent never regresses the
// observable value; reports for tasks that are no longer running are dropped.
func (m *TaskManager) Progress(id string, percent int, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok || t.Status != task.StatusRunning {
		return
	}

	if percent > 100 {
		percent = 100
	}
	if percent > t.Progress {
		t.Progress = percent
	}
	if message != "" {
		t.Message = message
	}
	m.persistLocked(t)
}

// admitLocked flips a pending task to running, takes a slot and spawns worker
// execution. Caller holds m.mu.
func (m *TaskManager) admitLocked(t *task.Task) {
	now := time.Now()
	t.Status = task.StatusRunning
	t.StartedAt = &now
	t.Message = fmt.Sprintf("Starting %s...", t.Descriptor.Type)
	m.running++

	ctx, cancel := context.WithCancel(context.Background())
	m.cancels[t.ID] = cancel

	m.persistLocked(t)
	snap := t.Clone()
	// Record off the lock: the caller holds m.mu and must not wait on the
	// history database.
	go func() {
		m.record("transition", m.recorder.RecordTransition(context.Background(), snap))
	}()
	metrics.RecordTaskWaitTime(t.Descriptor.Type, now.Sub(t.CreatedAt))

	go m.execute(ctx, t.ID, t.Descriptor)
}

// admitNextLocked serves the pending queue in creation order whenever a slot
// frees up. Tasks cancelled while queued are skipped. Caller holds m.mu.
func (m *TaskManager) admitNextLocked() {
	for m.running < m.cfg.MaxConcurrent && len(m.queue) > 0 {
		id := m.queue[0]
		m.queue = m.queue[1:]

		t, ok := m.tasks[id]
		if !ok || t.Status != task.StatusPending {
			continue
		}
		m.admitLocked(t)
	}
}

// finish applies a terminal transition. The first terminal transition wins;
// later ones (a job returning after its timeout already fired) are dropped.
func (m *TaskManager) finish(id string, status task.Status, res *task.Result, message string) {
	m.mu.Lock()

	t, ok := m.tasks[id]
	if !ok || t.Terminal() {
		m.mu.Unlock()
		return
	}

	now := time.Now()
	t.Status = status
	t.CompletedAt = &now
	t.Result = res
	t.Message = message
	if status == task.StatusCompleted {
		t.Progress = 100
	}
	if t.StartedAt != nil {
		t.DurationSeconds = now.Sub(*t.StartedAt).Seconds()
	}

	if cancel, ok := m.cancels[id]; ok {
		cancel()
		delete(m.cancels, id)
	}

	// Batch parents never held a slot; their children did.
	if t.Kind == task.KindSingle {
		m.running--
		m.admitNextLocked()
	}

	m.persistLocked(t)
	snap := t.Clone()
	m.mu.Unlock()

	m.record("transition", m.recorder.RecordTransition(context.Background(), snap))

	errMsg := ""
	if snap.Result != nil && snap.Result.Failure != nil {
		errMsg = snap.Result.Failure.Message
	}
	m.record("execution log", m.recorder.LogExecution(
		context.Background(), id, status, int64(snap.DurationSeconds*1000), errMsg))

	duration := time.Duration(snap.DurationSeconds * float64(time.Second))
	switch status {
	case task.StatusCompleted:
		metrics.RecordTaskCompleted(snap.Descriptor.Type, duration)
	case task.StatusFailed:
		kind := task.FailureJob
		if snap.Result != nil && snap.Result.Failure != nil {
			kind = snap.Result.Failure.Kind
		}
		metrics.RecordTaskFailed(snap.Descriptor.Type, kind, duration)
	}
}

// persistLocked writes the task to the store before it becomes visible to
// readers (they contend on the same mutex). On failure the in-memory record
// stays authoritative and the write is retried in the background with the
// then-current state. Caller holds m.mu.
func (m *TaskManager) persistLocked(t *task.Task) {
	err := m.store.Put(t.Clone())
	if err == nil {
		return
	}

	log.Printf("Failed to persist task %s, will retry: %v", t.ID, err)
	go m.retryPersist(t.ID)
}

func (m *TaskManager) retryPersist(id string) {
	for attempt := 1; attempt <= m.cfg.PersistRetries; attempt++ {
		time.Sleep(m.cfg.PersistRetryDelay)

		m.mu.Lock()
		t, ok := m.tasks[id]
		if !ok {
			m.mu.Unlock()
			return
		}
		snap := t.Clone()
		m.mu.Unlock()

		err := m.store.Put(snap)
		if err == nil {
			return
		}
		log.Printf("Retry %d/%d persisting task %s failed: %v", attempt, m.cfg.PersistRetries, id, err)
	}

	log.Printf("Giving up persisting task %s after %d retries", id, m.cfg.PersistRetries)
}

func (m *TaskManager) queuedLocked(id string) bool {
	for _, queued := range m.queue {
		if queued == id {
			return true
		}
	}
	return false
}

func (m *TaskManager) dequeueLocked(id string) {
	for i, queued := range m.queue {
		if queued == id {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return
		}
	}
}

func (m *TaskManager) record(op string, err error) {
	if err != nil {
		log.Printf("Failed to record task history (%s): %v", op, err)
	}
}
