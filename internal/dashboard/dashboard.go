// Package dashboard implements the web-based monitoring interface for task stats and recent history.
package dashboard

import (
	"net/http"
	"time"

	"github.com/indexops/recalc/internal/httputil"
	"github.com/indexops/recalc/internal/manager"
	"github.com/indexops/recalc/internal/task"
)

type Dashboard struct {
	manager *manager.TaskManager
}

type Stats struct {
	TotalTasks      int            `json:"total_tasks"`
	PendingTasks    int            `json:"pending_tasks"`
	RunningTasks    int            `json:"running_tasks"`
	CompletedTasks  int            `json:"completed_tasks"`
	FailedTasks     int            `json:"failed_tasks"`
	CancelledTasks  int            `json:"cancelled_tasks"`
	TasksByType     map[string]int `json:"tasks_by_type"`
	AverageWaitTime string         `json:"average_wait_time"`
	LastUpdated     time.Time      `json:"last_updated"`
}

type TaskHistory struct {
	TaskID      string      `json:"task_id"`
	Type        string      `json:"type"`
	Kind        task.Kind   `json:"kind"`
	Status      task.Status `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt *time.Time  `json:"completed_at"`
	Duration    string      `json:"duration"`
}

func NewDashboard(m *manager.TaskManager) *Dashboard {
	return &Dashboard{manager: m}
}

func (d *Dashboard) GetStats(w http.ResponseWriter, r *http.Request) {
	tasks := d.manager.List()

	stats := Stats{
		TotalTasks:  len(tasks),
		TasksByType: make(map[string]int),
		LastUpdated: time.Now(),
	}

	var totalWaitTime time.Duration
	waitCount := 0

	for _, t := range tasks {
		switch t.Status {
		case task.StatusPending:
			stats.PendingTasks++
		case task.StatusRunning:
			stats.RunningTasks++
		case task.StatusCompleted:
			stats.CompletedTasks++
		case task.StatusFailed:
			stats.FailedTasks++
		case task.StatusCancelled:
			stats.CancelledTasks++
		}

		stats.TasksByType[t.Descriptor.Type]++

		if t.StartedAt != nil {
			totalWaitTime += t.StartedAt.Sub(t.CreatedAt)
			waitCount++
		}
	}

	if waitCount > 0 {
		avgWait := totalWaitTime / time.Duration(waitCount)
		stats.AverageWaitTime = avgWait.Round(time.Millisecond).String()
	} else {
		stats.AverageWaitTime = "N/A"
	}

	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (d *Dashboard) GetRecentTasks(w http.ResponseWriter, r *http.Request) {
	tasks := d.manager.List()

	cutoff := time.Now().Add(-24 * time.Hour)
	history := []TaskHistory{}

	for _, t := range tasks {
		if t.CompletedAt == nil {
			continue
		}
		if t.CompletedAt.Before(cutoff) {
			continue
		}

		var duration string
		if t.StartedAt != nil {
			duration = t.CompletedAt.Sub(*t.StartedAt).Round(time.Millisecond).String()
		}

		history = append(history, TaskHistory{
			TaskID:      t.ID,
			Type:        t.Descriptor.Type,
			Kind:        t.Kind,
			Status:      t.Status,
			CreatedAt:   t.CreatedAt,
			CompletedAt: t.CompletedAt,
			Duration:    duration,
		})
	}

	httputil.WriteJSON(w, http.StatusOK, history)
}
