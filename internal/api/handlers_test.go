package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indexops/recalc/internal/batch"
	"github.com/indexops/recalc/internal/history"
	"github.com/indexops/recalc/internal/job"
	"github.com/indexops/recalc/internal/manager"
	"github.com/indexops/recalc/internal/store"
	"github.com/indexops/recalc/internal/task"
)

func setupTestAPI(t *testing.T, maxConcurrent int) (*API, *manager.TaskManager, chan struct{}) {
	release := make(chan struct{})

	registry := job.NewRegistry()
	registry.Register("echo", job.Func(func(ctx context.Context, params map[string]any, report job.ProgressFunc) (map[string]any, error) {
		return params, nil
	}))
	registry.Register("block", job.Func(func(ctx context.Context, params map[string]any, report job.ProgressFunc) (map[string]any, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, nil
	}))

	m := manager.New(store.NewMemoryStore(), registry, history.NopRecorder{}, manager.Config{MaxConcurrent: maxConcurrent})
	runner := batch.NewRunner(m)
	runner.SetPollInterval(5 * time.Millisecond)

	t.Cleanup(func() { close(release) })

	return NewAPI(m, runner), m, release
}

func doRequest(a *API, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}

	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, req)
	return rec
}

func TestCreateTask(t *testing.T) {
	a, m, _ := setupTestAPI(t, 3)

	t.Run("valid request", func(t *testing.T) {
		rec := doRequest(a, http.MethodPost, "/api/tasks", CreateTaskRequest{
			Type:   "echo",
			Params: map[string]any{"review_type": "quarterly"},
		})

		require.Equal(t, http.StatusCreated, rec.Code)

		var created task.Task
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
		assert.NotEmpty(t, created.ID)
		assert.Equal(t, "echo", created.Descriptor.Type)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		done, err := m.Wait(ctx, created.ID, 5*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, task.StatusCompleted, done.Status)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/tasks", bytes.NewBufferString("{not json"))
		rec := httptest.NewRecorder()
		a.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown job type", func(t *testing.T) {
		rec := doRequest(a, http.MethodPost, "/api/tasks", CreateTaskRequest{Type: "nope"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("method not allowed", func(t *testing.T) {
		rec := doRequest(a, http.MethodDelete, "/api/tasks", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestGetTask(t *testing.T) {
	a, m, _ := setupTestAPI(t, 3)

	id, err := m.Create(task.Descriptor{Type: "echo"})
	require.NoError(t, err)

	t.Run("found", func(t *testing.T) {
		rec := doRequest(a, http.MethodGet, "/api/tasks/"+id, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var got task.Task
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
		assert.Equal(t, id, got.ID)
		assert.Equal(t, task.StatusPending, got.Status)
	})

	t.Run("not found", func(t *testing.T) {
		rec := doRequest(a, http.MethodGet, "/api/tasks/nope", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("missing id", func(t *testing.T) {
		rec := doRequest(a, http.MethodGet, "/api/tasks/", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestListTasks(t *testing.T) {
	a, m, _ := setupTestAPI(t, 3)

	for i := 0; i < 2; i++ {
		_, err := m.Create(task.Descriptor{Type: "echo"})
		require.NoError(t, err)
	}

	rec := doRequest(a, http.MethodGet, "/api/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var listed []task.Task
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&listed))
	assert.Len(t, listed, 2)
}

func TestCancelTask(t *testing.T) {
	a, m, _ := setupTestAPI(t, 1)

	blocker, err := m.Create(task.Descriptor{Type: "block"})
	require.NoError(t, err)
	require.NoError(t, m.Start(blocker))

	queued, err := m.Create(task.Descriptor{Type: "echo"})
	require.NoError(t, err)
	require.NoError(t, m.Start(queued))

	t.Run("pending task", func(t *testing.T) {
		rec := doRequest(a, http.MethodPost, "/api/tasks/"+queued+"/cancel", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]string
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "cancelled", body["status"])

		got, err := m.Get(queued)
		require.NoError(t, err)
		assert.Equal(t, task.StatusCancelled, got.Status)
	})

	t.Run("already terminal", func(t *testing.T) {
		rec := doRequest(a, http.MethodPost, "/api/tasks/"+queued+"/cancel", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("not found", func(t *testing.T) {
		rec := doRequest(a, http.MethodPost, "/api/tasks/nope/cancel", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("method not allowed", func(t *testing.T) {
		rec := doRequest(a, http.MethodGet, "/api/tasks/"+queued+"/cancel", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestCreateBatch(t *testing.T) {
	a, m, _ := setupTestAPI(t, 3)

	t.Run("valid request", func(t *testing.T) {
		rec := doRequest(a, http.MethodPost, "/api/batches", CreateBatchRequest{
			Children: []task.Child{
				{Key: "quarterly", Job: task.Descriptor{Type: "echo", Params: map[string]any{"k": "q"}}},
				{Key: "annual", Job: task.Descriptor{Type: "echo", Params: map[string]any{"k": "a"}}},
			},
		})

		require.Equal(t, http.StatusAccepted, rec.Code)

		var body map[string]string
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		require.NotEmpty(t, body["task_id"])

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		parent, err := m.Wait(ctx, body["task_id"], 5*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, task.StatusCompleted, parent.Status)
		assert.Equal(t, task.KindBatch, parent.Kind)
	})

	t.Run("unknown child type", func(t *testing.T) {
		rec := doRequest(a, http.MethodPost, "/api/batches", CreateBatchRequest{
			Children: []task.Child{{Key: "k1", Job: task.Descriptor{Type: "nope"}}},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("method not allowed", func(t *testing.T) {
		rec := doRequest(a, http.MethodGet, "/api/batches", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestCleanupTasks(t *testing.T) {
	a, m, _ := setupTestAPI(t, 3)

	id, err := m.Create(task.Descriptor{Type: "echo"})
	require.NoError(t, err)
	require.NoError(t, m.Start(id))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = m.Wait(ctx, id, 5*time.Millisecond)
	require.NoError(t, err)

	t.Run("nothing old enough", func(t *testing.T) {
		rec := doRequest(a, http.MethodPost, "/api/tasks/cleanup", CleanupRequest{MaxAgeHours: 24})
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]int
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, 0, body["removed"])
	})

	t.Run("default max age without body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/tasks/cleanup", nil)
		rec := httptest.NewRecorder()
		a.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("non-positive max age", func(t *testing.T) {
		rec := doRequest(a, http.MethodPost, "/api/tasks/cleanup", CleanupRequest{MaxAgeHours: -1})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSystemStatus(t *testing.T) {
	a, _, _ := setupTestAPI(t, 3)

	rec := doRequest(a, http.MethodGet, "/api/system/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status manager.SystemStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, 3, status.MaxConcurrent)
	assert.Equal(t, 0, status.RunningCount)
}

func TestMetricsEndpoint(t *testing.T) {
	a, _, _ := setupTestAPI(t, 3)

	rec := doRequest(a, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "recalc_")
}
