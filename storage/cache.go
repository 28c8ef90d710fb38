package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"tasklist-api/domain"
)

type backend interface {
	ListTasks(ctx context.Context, userID string) ([]domain.Task, error)
	GetTask(ctx context.Context, userID, taskID string) (domain.Task, error)
	InsertTask(ctx context.Context, userID, text string, priority int) (domain.Task, error)
	UpdateTask(ctx context.Context, userID, taskID string, patch domain.TaskPatch) error
	DeleteTask(ctx context.Context, userID, taskID string) error
	ReorderTasks(ctx context.Context, userID string, tasks []domain.Task) error
	FetchSettings(ctx context.Context, userID string) (domain.Settings, error)
	SaveSettings(ctx context.Context, userID string, settings domain.Settings) error
}

// Cache wraps a Storage instance with Redis-backed caching for the read
// paths. Redis failures never fail a request: reads fall through to the
// backing store and the stale key is dropped.
type Cache struct {
	*Storage
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Storage wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}

	c := &Cache{
		base:  base,
		redis: client,
		ttl:   ttl,
	}
	if s, ok := base.(*Storage); ok {
		c.Storage = s
	}
	return c
}

func (c *Cache) ListTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	if tasks, ok := c.loadTasksFromCache(ctx, userID); ok {
		return tasks, nil
	}

	tasks, err := c.base.ListTasks(ctx, userID)
	if err != nil {
		return nil, err
	}

	c.storeTasks(ctx, userID, tasks)
	return tasks, nil
}

func (c *Cache) GetTask(ctx context.Context, userID, taskID string) (domain.Task, error) {
	if tasks, ok := c.loadTasksFromCache(ctx, userID); ok {
		for _, task := range tasks {
			if task.ID == taskID {
				return task, nil
			}
		}
		return domain.Task{}, NotFoundError{Resource: "task"}
	}
	return c.base.GetTask(ctx, userID, taskID)
}

func (c *Cache) InsertTask(ctx context.Context, userID, text string, priority int) (domain.Task, error) {
	task, err := c.base.InsertTask(ctx, userID, text, priority)
	if err != nil {
		return domain.Task{}, err
	}
	c.evictTasks(ctx, userID)
	return task, nil
}

func (c *Cache) UpdateTask(ctx context.Context, userID, taskID string, patch domain.TaskPatch) error {
	if err := c.base.UpdateTask(ctx, userID, taskID, patch); err != nil {
		return err
	}
	c.evictTasks(ctx, userID)
	return nil
}

func (c *Cache) DeleteTask(ctx context.Context, userID, taskID string) error {
	if err := c.base.DeleteTask(ctx, userID, taskID); err != nil {
		return err
	}
	c.evictTasks(ctx, userID)
	return nil
}

func (c *Cache) ReorderTasks(ctx context.Context, userID string, tasks []domain.Task) error {
	if err := c.base.ReorderTasks(ctx, userID, tasks); err != nil {
		return err
	}
	c.evictTasks(ctx, userID)
	return nil
}

func (c *Cache) FetchSettings(ctx context.Context, userID string) (domain.Settings, error) {
	if settings, ok := c.loadSettingsFromCache(ctx, userID); ok {
		return settings, nil
	}

	settings, err := c.base.FetchSettings(ctx, userID)
	if err != nil {
		return domain.Settings{}, err
	}

	c.storeSettings(ctx, userID, settings)
	return settings, nil
}

func (c *Cache) SaveSettings(ctx context.Context, userID string, settings domain.Settings) error {
	if err := c.base.SaveSettings(ctx, userID, settings); err != nil {
		return err
	}
	if c.redis != nil {
		_ = c.redis.Del(ctx, settingsCacheKey(userID)).Err()
	}
	return nil
}

func (c *Cache) loadTasksFromCache(ctx context.Context, userID string) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, tasksCacheKey(userID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, tasksCacheKey(userID)).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, tasksCacheKey(userID)).Err()
		return nil, false
	}
	return tasks, true
}

func (c *Cache) loadSettingsFromCache(ctx context.Context, userID string) (domain.Settings, bool) {
	if c.redis == nil {
		return domain.Settings{}, false
	}
	data, err := c.redis.Get(ctx, settingsCacheKey(userID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			_ = c.redis.Del(ctx, settingsCacheKey(userID)).Err()
		}
		return domain.Settings{}, false
	}
	var settings domain.Settings
	if err := sonic.Unmarshal(data, &settings); err != nil {
		_ = c.redis.Del(ctx, settingsCacheKey(userID)).Err()
		return domain.Settings{}, false
	}
	return settings, true
}

func (c *Cache) storeTasks(ctx context.Context, userID string, tasks []domain.Task) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(tasks)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, tasksCacheKey(userID), data, c.ttl).Err()
}

func (c *Cache) storeSettings(ctx context.Context, userID string, settings domain.Settings) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(settings)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, settingsCacheKey(userID), data, c.ttl).Err()
}

func (c *Cache) evictTasks(ctx context.Context, userID string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, tasksCacheKey(userID)).Result()
}

func tasksCacheKey(userID string) string {
	return "tasks:" + userID
}

func settingsCacheKey(userID string) string {
	return "settings:" + userID
}
