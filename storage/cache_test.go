package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"tasklist-api/domain"
)

type stubBackend struct {
	listTasksFn     func(ctx context.Context, userID string) ([]domain.Task, error)
	getTaskFn       func(ctx context.Context, userID, taskID string) (domain.Task, error)
	insertTaskFn    func(ctx context.Context, userID, text string, priority int) (domain.Task, error)
	updateTaskFn    func(ctx context.Context, userID, taskID string, patch domain.TaskPatch) error
	deleteTaskFn    func(ctx context.Context, userID, taskID string) error
	reorderTasksFn  func(ctx context.Context, userID string, tasks []domain.Task) error
	fetchSettingsFn func(ctx context.Context, userID string) (domain.Settings, error)
	saveSettingsFn  func(ctx context.Context, userID string, settings domain.Settings) error
}

func (s *stubBackend) ListTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	if s.listTasksFn == nil {
		return nil, errors.New("unexpected ListTasks call")
	}
	return s.listTasksFn(ctx, userID)
}

func (s *stubBackend) GetTask(ctx context.Context, userID, taskID string) (domain.Task, error) {
	if s.getTaskFn == nil {
		return domain.Task{}, errors.New("unexpected GetTask call")
	}
	return s.getTaskFn(ctx, userID, taskID)
}

func (s *stubBackend) InsertTask(ctx context.Context, userID, text string, priority int) (domain.Task, error) {
	if s.insertTaskFn == nil {
		return domain.Task{}, errors.New("unexpected InsertTask call")
	}
	return s.insertTaskFn(ctx, userID, text, priority)
}

func (s *stubBackend) UpdateTask(ctx context.Context, userID, taskID string, patch domain.TaskPatch) error {
	if s.updateTaskFn == nil {
		return errors.New("unexpected UpdateTask call")
	}
	return s.updateTaskFn(ctx, userID, taskID, patch)
}

func (s *stubBackend) DeleteTask(ctx context.Context, userID, taskID string) error {
	if s.deleteTaskFn == nil {
		return errors.New("unexpected DeleteTask call")
	}
	return s.deleteTaskFn(ctx, userID, taskID)
}

func (s *stubBackend) ReorderTasks(ctx context.Context, userID string, tasks []domain.Task) error {
	if s.reorderTasksFn == nil {
		return errors.New("unexpected ReorderTasks call")
	}
	return s.reorderTasksFn(ctx, userID, tasks)
}

func (s *stubBackend) FetchSettings(ctx context.Context, userID string) (domain.Settings, error) {
	if s.fetchSettingsFn == nil {
		return domain.Settings{}, errors.New("unexpected FetchSettings call")
	}
	return s.fetchSettingsFn(ctx, userID)
}

func (s *stubBackend) SaveSettings(ctx context.Context, userID string, settings domain.Settings) error {
	if s.saveSettingsFn == nil {
		return errors.New("unexpected SaveSettings call")
	}
	return s.saveSettingsFn(ctx, userID, settings)
}

func newTestCache(t *testing.T, base backend, ttl time.Duration) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewCache(base, client, ttl), mr
}

func TestCacheListTasksMissThenHit(t *testing.T) {
	ctx := context.Background()
	userID := "user-1"
	expected := []domain.Task{{ID: "t1", Text: "Write code", Priority: 0}}

	var calls int
	cache, mr := newTestCache(t, &stubBackend{
		listTasksFn: func(ctx context.Context, uid string) ([]domain.Task, error) {
			calls++
			if uid != userID {
				t.Fatalf("unexpected user id: %s", uid)
			}
			return append([]domain.Task(nil), expected...), nil
		},
	}, time.Minute)

	tasks, err := cache.ListTasks(ctx, userID)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if !reflect.DeepEqual(tasks, expected) {
		t.Fatalf("unexpected tasks: %#v", tasks)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call to backend, got %d", calls)
	}
	if ttl := mr.TTL(tasksCacheKey(userID)); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}

	cached, err := cache.ListTasks(ctx, userID)
	if err != nil {
		t.Fatalf("list cached tasks: %v", err)
	}
	if !reflect.DeepEqual(cached, expected) {
		t.Fatalf("unexpected cached tasks: %#v", cached)
	}
	if calls != 1 {
		t.Fatalf("expected cached list to avoid backend, calls=%d", calls)
	}
}

func TestCacheCorruptEntryFallsThrough(t *testing.T) {
	ctx := context.Background()
	userID := "user-1"
	expected := []domain.Task{{ID: "t1", Text: "fresh"}}

	var calls int
	cache, mr := newTestCache(t, &stubBackend{
		listTasksFn: func(ctx context.Context, uid string) ([]domain.Task, error) {
			calls++
			return append([]domain.Task(nil), expected...), nil
		},
	}, time.Minute)

	if err := mr.Set(tasksCacheKey(userID), "{not json"); err != nil {
		t.Fatalf("seed corrupt entry: %v", err)
	}

	tasks, err := cache.ListTasks(ctx, userID)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if !reflect.DeepEqual(tasks, expected) {
		t.Fatalf("unexpected tasks: %#v", tasks)
	}
	if calls != 1 {
		t.Fatalf("expected backend call after corrupt cache entry, calls=%d", calls)
	}
}

func TestCacheMutationsEvictTasks(t *testing.T) {
	ctx := context.Background()
	userID := "user-1"

	notes := "n"
	mutations := []struct {
		name string
		run  func(c *Cache) error
	}{
		{name: "insert", run: func(c *Cache) error {
			_, err := c.InsertTask(ctx, userID, "t", 0)
			return err
		}},
		{name: "update", run: func(c *Cache) error {
			return c.UpdateTask(ctx, userID, "t1", domain.TaskPatch{Notes: &notes})
		}},
		{name: "delete", run: func(c *Cache) error {
			return c.DeleteTask(ctx, userID, "t1")
		}},
		{name: "reorder", run: func(c *Cache) error {
			return c.ReorderTasks(ctx, userID, []domain.Task{{ID: "t1"}})
		}},
	}

	for _, tt := range mutations {
		t.Run(tt.name, func(t *testing.T) {
			cache, mr := newTestCache(t, &stubBackend{
				insertTaskFn: func(ctx context.Context, uid, text string, priority int) (domain.Task, error) {
					return domain.Task{ID: "new", Text: text, Priority: priority}, nil
				},
				updateTaskFn: func(ctx context.Context, uid, taskID string, patch domain.TaskPatch) error {
					return nil
				},
				deleteTaskFn:   func(ctx context.Context, uid, taskID string) error { return nil },
				reorderTasksFn: func(ctx context.Context, uid string, tasks []domain.Task) error { return nil },
			}, time.Minute)

			if err := mr.Set(tasksCacheKey(userID), "[]"); err != nil {
				t.Fatalf("seed cache: %v", err)
			}
			if err := tt.run(cache); err != nil {
				t.Fatalf("mutation: %v", err)
			}
			if mr.Exists(tasksCacheKey(userID)) {
				t.Fatalf("expected task cache to be evicted after %s", tt.name)
			}
		})
	}
}

func TestCacheMutationFailureKeepsCache(t *testing.T) {
	ctx := context.Background()
	userID := "user-1"
	boom := errors.New("storage down")

	cache, mr := newTestCache(t, &stubBackend{
		deleteTaskFn: func(ctx context.Context, uid, taskID string) error { return boom },
	}, time.Minute)

	if err := mr.Set(tasksCacheKey(userID), "[]"); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	if err := cache.DeleteTask(ctx, userID, "t1"); !errors.Is(err, boom) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if !mr.Exists(tasksCacheKey(userID)) {
		t.Fatalf("cache must not be evicted when the mutation failed")
	}
}

func TestCacheGetTaskUsesCachedList(t *testing.T) {
	ctx := context.Background()
	userID := "user-1"

	cache, mr := newTestCache(t, &stubBackend{}, time.Minute)
	if err := mr.Set(tasksCacheKey(userID), `[{"id":"t1","text":"cached","priority":0,"createdAt":"2026-01-01T00:00:00Z"}]`); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	task, err := cache.GetTask(ctx, userID, "t1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Text != "cached" {
		t.Fatalf("unexpected task: %#v", task)
	}

	if _, err := cache.GetTask(ctx, userID, "missing"); err == nil {
		t.Fatalf("expected not-found for id absent from cached list")
	}
}

func TestCacheSettingsRoundTrip(t *testing.T) {
	ctx := context.Background()
	userID := "user-1"
	stored := domain.Settings{SortField: domain.SortByAge, SortDir: domain.SortDesc, SelectedTaskID: "t2"}

	var fetches, saves int
	cache, mr := newTestCache(t, &stubBackend{
		fetchSettingsFn: func(ctx context.Context, uid string) (domain.Settings, error) {
			fetches++
			return stored, nil
		},
		saveSettingsFn: func(ctx context.Context, uid string, s domain.Settings) error {
			saves++
			return nil
		},
	}, time.Minute)

	got, err := cache.FetchSettings(ctx, userID)
	if err != nil {
		t.Fatalf("fetch settings: %v", err)
	}
	if got != stored {
		t.Fatalf("unexpected settings: %+v", got)
	}

	if _, err := cache.FetchSettings(ctx, userID); err != nil {
		t.Fatalf("fetch cached settings: %v", err)
	}
	if fetches != 1 {
		t.Fatalf("expected settings to come from cache, fetches=%d", fetches)
	}

	if err := cache.SaveSettings(ctx, userID, domain.DefaultSettings()); err != nil {
		t.Fatalf("save settings: %v", err)
	}
	if saves != 1 {
		t.Fatalf("expected save to reach backend, saves=%d", saves)
	}
	if mr.Exists(settingsCacheKey(userID)) {
		t.Fatalf("expected settings cache eviction after save")
	}
}

func TestCacheNilRedisPassesThrough(t *testing.T) {
	ctx := context.Background()
	var calls int
	cache := NewCache(&stubBackend{
		listTasksFn: func(ctx context.Context, uid string) ([]domain.Task, error) {
			calls++
			return nil, nil
		},
	}, nil, time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := cache.ListTasks(ctx, "u"); err != nil {
			t.Fatalf("list tasks: %v", err)
		}
	}
	if calls != 2 {
		t.Fatalf("expected every list to hit the backend without redis, calls=%d", calls)
	}
}
