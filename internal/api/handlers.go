// Package api exposes the task manager's caller-facing operations over HTTP.
// Every handler returns immediately; none blocks on job completion.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/indexops/recalc/internal/batch"
	"github.com/indexops/recalc/internal/dashboard"
	"github.com/indexops/recalc/internal/httputil"
	"github.com/indexops/recalc/internal/manager"
	"github.com/indexops/recalc/internal/task"
)

type API struct {
	manager *manager.TaskManager
	batch   *batch.Runner
	mux     *http.ServeMux
}

type CreateTaskRequest struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params"`
}

type CreateBatchRequest struct {
	Children []task.Child `json:"children"`
}

type CleanupRequest struct {
	MaxAgeHours int `json:"max_age_hours"`
}

func NewAPI(m *manager.TaskManager, b *batch.Runner) *API {
	api := &API{
		manager: m,
		batch:   b,
		mux:     http.NewServeMux(),
	}

	api.setupRoutes()
	return api
}

func (a *API) setupRoutes() {
	a.mux.HandleFunc("/api/tasks", a.handleTasks)
	a.mux.HandleFunc("/api/tasks/cleanup", a.cleanupTasks)
	a.mux.HandleFunc("/api/tasks/", a.handleTaskByID)
	a.mux.HandleFunc("/api/batches", a.createBatch)
	a.mux.HandleFunc("/api/system/status", a.systemStatus)

	dash := dashboard.NewDashboard(a.manager)
	a.mux.HandleFunc("/api/dashboard/stats", dash.GetStats)
	a.mux.HandleFunc("/api/dashboard/history", dash.GetRecentTasks)

	a.mux.Handle("/metrics", promhttp.Handler())
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

func (a *API) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createTask(w, r)
	case http.MethodGet:
		a.listTasks(w, r)
	default:
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *API) createTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSONError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	id, err := a.manager.Create(task.Descriptor{Type: req.Type, Params: req.Params})
	if err != nil {
		writeManagerError(w, err)
		return
	}

	if err := a.manager.Start(id); err != nil {
		writeManagerError(w, err)
		return
	}

	t, err := a.manager.Get(id)
	if err != nil {
		writeManagerError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, t)
}

func (a *API) listTasks(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, a.manager.List())
}

func (a *API) createBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CreateBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSONError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	id, err := a.batch.Submit(req.Children)
	if err != nil {
		writeManagerError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"task_id": id})
}

func (a *API) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	if rest == "" {
		httputil.WriteJSONError(w, "Task ID is required", http.StatusBadRequest)
		return
	}

	if id, ok := strings.CutSuffix(rest, "/cancel"); ok {
		a.cancelTask(w, r, id)
		return
	}

	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	t, err := a.manager.Get(rest)
	if err != nil {
		writeManagerError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, t)
}

func (a *API) cancelTask(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := a.manager.Cancel(id); err != nil {
		writeManagerError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (a *API) cleanupTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req := CleanupRequest{MaxAgeHours: 24}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.WriteJSONError(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
	}
	if req.MaxAgeHours <= 0 {
		httputil.WriteJSONError(w, "max_age_hours must be positive", http.StatusBadRequest)
		return
	}

	removed, err := a.manager.Cleanup(time.Duration(req.MaxAgeHours) * time.Hour)
	if err != nil {
		writeManagerError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (a *API) systemStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, a.manager.SystemStatus())
}

func writeManagerError(w http.ResponseWriter, err error) {
	var validationErr *manager.ValidationError

	switch {
	case errors.As(err, &validationErr):
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, manager.ErrNotFound):
		httputil.WriteJSONError(w, "Task not found", http.StatusNotFound)
	case errors.Is(err, manager.ErrNotCancellable):
		httputil.WriteJSONError(w, "Task cannot be cancelled", http.StatusConflict)
	default:
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
	}
}
