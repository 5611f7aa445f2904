package store

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/indexops/recalc/internal/task"
)

// FileStore is the durable backing: one indented JSON document per task under
// a storage directory, so an operator can inspect or repair state after a
// crash. Writes go to a temporary file first and are committed with an atomic
// rename.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) taskPath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *FileStore) Put(t *task.Task) error {
	data, err := t.ToJSON()
	if err != nil {
		return err
	}

	path := s.taskPath(t.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(data), 0o644); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}

func (s *FileStore) Get(id string) (*task.Task, error) {
	data, err := os.ReadFile(s.taskPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return task.FromJSON(string(data))
}

func (s *FileStore) List() ([]*task.Task, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, err
	}

	tasks := make([]*task.Task, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("Skipping unreadable task file %s: %v", path, err)
			continue
		}
		t, err := task.FromJSON(string(data))
		if err != nil {
			log.Printf("Skipping corrupt task file %s: %v", path, err)
			continue
		}
		tasks = append(tasks, t)
	}

	return tasks, nil
}

func (s *FileStore) Delete(id string) error {
	if err := os.Remove(s.taskPath(id)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
