package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indexops/recalc/internal/task"
)

func setupFileStore(t *testing.T) (*FileStore, string) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	return s, dir
}

func TestNewFileStoreCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "task_storage")

	_, err := NewFileStore(dir)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestFileStorePutGet(t *testing.T) {
	s, dir := setupFileStore(t)

	tk := task.New(task.Descriptor{Type: "index_review", Params: map[string]any{"review_type": "quarterly"}})
	tk.Status = task.StatusRunning
	tk.Progress = 40
	require.NoError(t, s.Put(tk))

	got, err := s.Get(tk.ID)
	require.NoError(t, err)
	assert.Equal(t, tk.ID, got.ID)
	assert.Equal(t, task.StatusRunning, got.Status)
	assert.Equal(t, 40, got.Progress)
	assert.Equal(t, "quarterly", got.Descriptor.Params["review_type"])

	// The write is committed by rename; no temporary file is left behind.
	_, err = os.Stat(filepath.Join(dir, tk.ID+".json.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileStorePutOverwrites(t *testing.T) {
	s, _ := setupFileStore(t)

	tk := task.New(task.Descriptor{Type: "index_review"})
	require.NoError(t, s.Put(tk))

	tk.Status = task.StatusCompleted
	tk.Progress = 100
	require.NoError(t, s.Put(tk))

	got, err := s.Get(tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
}

func TestFileStoreGetMissing(t *testing.T) {
	s, _ := setupFileStore(t)

	_, err := s.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreList(t *testing.T) {
	s, dir := setupFileStore(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Put(task.New(task.Descriptor{Type: "index_review"})))
	}

	// A corrupt file is skipped rather than failing the whole listing.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "corrupt.json"), []byte("{not json"), 0o644))

	listed, err := s.List()
	require.NoError(t, err)
	assert.Len(t, listed, 3)
}

func TestFileStoreDelete(t *testing.T) {
	s, dir := setupFileStore(t)

	tk := task.New(task.Descriptor{Type: "index_review"})
	require.NoError(t, s.Put(tk))
	require.NoError(t, s.Delete(tk.ID))

	_, err := os.Stat(filepath.Join(dir, tk.ID+".json"))
	assert.True(t, os.IsNotExist(err))

	// Deleting a missing record is not an error.
	assert.NoError(t, s.Delete(tk.ID))
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := NewFileStore(dir)
	require.NoError(t, err)

	tk := task.New(task.Descriptor{Type: "index_review"})
	tk.Status = task.StatusRunning
	require.NoError(t, s.Put(tk))

	reopened, err := NewFileStore(dir)
	require.NoError(t, err)

	got, err := reopened.Get(tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusRunning, got.Status)
}
