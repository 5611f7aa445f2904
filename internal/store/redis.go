package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/indexops/recalc/internal/task"
)

const taskHashKey = "recalc:tasks"

// RedisStore is a durable backing for deployments where several hosts share
// one task record set.
type RedisStore struct {
	client *redis.Client
	ctx    context.Context
}

func NewRedisStore(redisAddr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{
		client: client,
		ctx:    ctx,
	}, nil
}

func (s *RedisStore) Put(t *task.Task) error {
	data, err := t.ToJSON()
	if err != nil {
		return err
	}
	return s.client.HSet(s.ctx, taskHashKey, t.ID, data).Err()
}

func (s *RedisStore) Get(id string) (*task.Task, error) {
	data, err := s.client.HGet(s.ctx, taskHashKey, id).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return task.FromJSON(data)
}

func (s *RedisStore) List() ([]*task.Task, error) {
	taskMap, err := s.client.HGetAll(s.ctx, taskHashKey).Result()
	if err != nil {
		return nil, err
	}

	tasks := make([]*task.Task, 0, len(taskMap))
	for _, data := range taskMap {
		t, err := task.FromJSON(data)
		if err != nil {
			continue
		}
		tasks = append(tasks, t)
	}

	return tasks, nil
}

func (s *RedisStore) Delete(id string) error {
	return s.client.HDel(s.ctx, taskHashKey, id).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
