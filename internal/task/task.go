// Package task defines the core task domain model used by the manager and persistence layers.
// It contains task metadata, status definitions, the tagged result variant and serialization helpers.
package task

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type (
	Kind   string
	Status string
)

const (
	KindSingle Kind = "single"
	KindBatch  Kind = "batch"
)

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Failure kinds let callers tell "ran and failed" apart from "never finished
// in time" and from tasks killed by a process restart.
const (
	FailureJob           = "job_error"
	FailureTimeout       = "timeout"
	FailureInterrupted   = "interrupted"
	FailureOrchestration = "orchestration"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Descriptor identifies a job type and its parameters. The orchestration core
// never interprets Params beyond handing them to the resolved job.
type Descriptor struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// Child is one entry of a batch: a job descriptor plus a dedup key.
type Child struct {
	Key string     `json:"key"`
	Job Descriptor `json:"job"`
}

type Failure struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// Result is the tagged outcome of a finished task: exactly one of Payload or
// Failure is set. Callers branch on Succeeded instead of probing a status map.
type Result struct {
	Payload map[string]any `json:"payload,omitempty"`
	Failure *Failure       `json:"failure,omitempty"`
}

func Success(payload map[string]any) *Result {
	return &Result{Payload: payload}
}

func Failed(kind, message, detail string) *Result {
	return &Result{Failure: &Failure{Kind: kind, Message: message, Detail: detail}}
}

func (r *Result) Succeeded() bool {
	return r != nil && r.Failure == nil
}

// ChildResult is one entry of a batch result list, in submission order.
type ChildResult struct {
	Key         string     `json:"key"`
	TaskID      string     `json:"task_id"`
	Status      Status     `json:"status"`
	Message     string     `json:"message"`
	Result      *Result    `json:"result,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type BatchSummary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

type Task struct {
	ID              string     `json:"id"`
	Kind            Kind       `json:"kind"`
	Status          Status     `json:"status"`
	Descriptor      Descriptor `json:"job_descriptor"`
	Children        []Child    `json:"children,omitempty"`
	Progress        int        `json:"progress"`
	Message         string     `json:"message"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds float64    `json:"duration_seconds,omitempty"`
	Result          *Result    `json:"result,omitempty"`
}

func New(desc Descriptor) *Task {
	return &Task{
		ID:         uuid.New().String(),
		Kind:       KindSingle,
		Status:     StatusPending,
		Descriptor: desc,
		CreatedAt:  time.Now(),
		Message:    "Task created and queued",
	}
}

func NewBatch(children []Child) *Task {
	return &Task{
		ID:         uuid.New().String(),
		Kind:       KindBatch,
		Status:     StatusPending,
		Descriptor: Descriptor{Type: "batch"},
		Children:   children,
		CreatedAt:  time.Now(),
		Message:    "Batch created and queued",
	}
}

func (t *Task) Terminal() bool {
	return t.Status.Terminal()
}

// Clone returns a copy safe to hand out to readers. Pointer fields are
// write-once, so copying the struct value is sufficient for them.
func (t *Task) Clone() *Task {
	c := *t
	if t.Children != nil {
		c.Children = append([]Child(nil), t.Children...)
	}
	return &c
}

// ToJSON renders the task as an indented, self-describing document so an
// operator can inspect or repair persisted state by hand.
func (t *Task) ToJSON() (string, error) {
	data, err := json.MarshalIndent(t, "", "  ")
	return string(data), err
}

func FromJSON(data string) (*Task, error) {
	var t Task
	err := json.Unmarshal([]byte(data), &t)
	return &t, err
}
