package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
)

func TestTaskMarshalIncludesZeroPriority(t *testing.T) {
	task := Task{ID: "t1", Text: "Title", Priority: 0}

	payload, err := sonic.Marshal(task)
	if err != nil {
		t.Fatalf("marshal task: %v", err)
	}

	if !strings.Contains(string(payload), "\"priority\":0") {
		t.Fatalf("expected priority field to be present, got %s", payload)
	}
}

func TestAgeLabelBoundaries(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		age  time.Duration
		want string
	}{
		{name: "zero", age: 0, want: "Just now"},
		{name: "under a minute", age: 59 * time.Second, want: "Just now"},
		{name: "one minute", age: time.Minute, want: "1 minute ago"},
		{name: "fifty nine minutes", age: 59 * time.Minute, want: "59 minutes ago"},
		{name: "sixty minutes", age: 60 * time.Minute, want: "1 hour ago"},
		{name: "almost a day", age: 23*time.Hour + 59*time.Minute, want: "23 hours ago"},
		{name: "one day", age: 24 * time.Hour, want: "1 day ago"},
		{name: "twenty nine days", age: 29 * 24 * time.Hour, want: "29 days ago"},
		{name: "thirty days", age: 30 * 24 * time.Hour, want: "1 month ago"},
		{name: "a year of months", age: 12 * 30 * 24 * time.Hour, want: "1 year ago"},
		{name: "clock skew", age: -time.Hour, want: "Just now"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AgeLabel(now.Add(-tt.age), now)
			if got != tt.want {
				t.Fatalf("AgeLabel(now-%v) = %q, want %q", tt.age, got, tt.want)
			}
		})
	}
}

func seqTasks(ids ...string) []Task {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tasks := make([]Task, len(ids))
	for i, id := range ids {
		tasks[i] = Task{ID: id, Text: "task " + id, Priority: i, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
	}
	return tasks
}

func order(tasks []Task) string {
	ids := make([]string, len(tasks))
	for i, task := range tasks {
		ids[i] = task.ID
	}
	return strings.Join(ids, "")
}

func TestRelocate(t *testing.T) {
	tests := []struct {
		name     string
		id       string
		position int
		want     string
	}{
		{name: "forward", id: "a", position: 2, want: "bcad"},
		{name: "backward", id: "d", position: 0, want: "dabc"},
		{name: "no move", id: "b", position: 1, want: "abcd"},
		{name: "clamp high", id: "a", position: 99, want: "bcda"},
		{name: "clamp low", id: "c", position: -5, want: "cabd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks := seqTasks("a", "b", "c", "d")
			got, err := Relocate(tasks, tt.id, tt.position)
			if err != nil {
				t.Fatalf("Relocate: %v", err)
			}
			if order(got) != tt.want {
				t.Fatalf("order = %q, want %q", order(got), tt.want)
			}
			for i, task := range got {
				if task.Priority != i {
					t.Fatalf("task %q priority = %d, want index %d", task.ID, task.Priority, i)
				}
			}
			if order(tasks) != "abcd" {
				t.Fatalf("input mutated: %q", order(tasks))
			}
		})
	}
}

func TestRelocateUnknownTask(t *testing.T) {
	if _, err := Relocate(seqTasks("a"), "nope", 0); err != ErrUnknownTask {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}
}

func TestSortTasksByAge(t *testing.T) {
	tasks := seqTasks("a", "b", "c")

	SortTasks(tasks, SortByAge, SortDesc)
	if order(tasks) != "cba" {
		t.Fatalf("descending order = %q, want cba", order(tasks))
	}

	SortTasks(tasks, SortByAge, SortAsc)
	if order(tasks) != "abc" {
		t.Fatalf("ascending order = %q, want abc", order(tasks))
	}
}

func TestSortTasksByPriorityIgnoresDirection(t *testing.T) {
	tasks := seqTasks("a", "b", "c")
	tasks[0].Priority = 2
	tasks[2].Priority = 0

	SortTasks(tasks, SortByPriority, SortDesc)
	if order(tasks) != "cba" {
		t.Fatalf("priority order = %q, want cba", order(tasks))
	}
}
