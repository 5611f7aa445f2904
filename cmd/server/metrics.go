package main

import (
	"time"

	"github.com/indexops/recalc/internal/manager"
	"github.com/indexops/recalc/internal/metrics"
	"github.com/indexops/recalc/internal/task"
)

func startMetricsCollector(m *manager.TaskManager) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		updateTaskMetrics(m)
	}
}

func updateTaskMetrics(m *manager.TaskManager) {
	tasksByStatus := make(map[task.Status]map[string]int)
	for _, t := range m.List() {
		if tasksByStatus[t.Status] == nil {
			tasksByStatus[t.Status] = make(map[string]int)
		}
		tasksByStatus[t.Status][t.Descriptor.Type]++
	}
	metrics.UpdateTaskGauges(tasksByStatus)

	status := m.SystemStatus()
	metrics.UpdateGateGauges(status.RunningCount, status.PendingCount)
}
