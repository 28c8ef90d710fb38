package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Task represents a single list item owned by one identity.
type Task struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Notes     string    `json:"notes,omitempty"`
	Priority  int       `json:"priority"`
	UserID    string    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	// Age is a display label computed at response time, never stored.
	Age string `json:"age,omitempty"`
}

// TaskPatch is a partial update: nil fields are left unchanged.
type TaskPatch struct {
	Notes    *string `json:"notes"`
	Priority *int    `json:"priority"`
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return p.Notes == nil && p.Priority == nil
}

// Validate rejects patches the store must never see.
func (p TaskPatch) Validate() error {
	if p.Priority != nil && *p.Priority < 0 {
		return errors.New("priority must be non-negative")
	}
	return nil
}

// SortField selects the presentation ordering of a task list.
type SortField string

const (
	SortByPriority SortField = "priority"
	SortByAge      SortField = "age"
)

// SortDir is the direction applied to the age ordering. Priority ordering is
// ascending regardless of direction.
type SortDir string

const (
	SortAsc  SortDir = "asc"
	SortDesc SortDir = "desc"
)

// ParseSortField validates a sort field name.
func ParseSortField(s string) (SortField, error) {
	switch SortField(strings.ToLower(strings.TrimSpace(s))) {
	case SortByPriority:
		return SortByPriority, nil
	case SortByAge:
		return SortByAge, nil
	}
	return "", fmt.Errorf("unknown sort field %q", s)
}

// ParseSortDir validates a sort direction.
func ParseSortDir(s string) (SortDir, error) {
	switch SortDir(strings.ToLower(strings.TrimSpace(s))) {
	case SortAsc:
		return SortAsc, nil
	case SortDesc:
		return SortDesc, nil
	}
	return "", fmt.Errorf("unknown sort direction %q", s)
}

// SortTasks orders tasks in place for presentation.
func SortTasks(tasks []Task, field SortField, dir SortDir) {
	switch field {
	case SortByAge:
		sort.SliceStable(tasks, func(i, j int) bool {
			if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
				return tasks[i].ID < tasks[j].ID
			}
			if dir == SortDesc {
				return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
			}
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		})
	default:
		sort.SliceStable(tasks, func(i, j int) bool {
			if tasks[i].Priority != tasks[j].Priority {
				return tasks[i].Priority < tasks[j].Priority
			}
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		})
	}
}

// ErrUnknownTask is returned by Relocate when the moved id is not present.
var ErrUnknownTask = errors.New("unknown task")

// Relocate moves the task with the given id to position within the sequence,
// keeping the relative order of every other task, then rewrites each task's
// Priority to its 0-based index. The input slice is not modified. Positions
// outside the sequence are clamped to its ends.
func Relocate(tasks []Task, id string, position int) ([]Task, error) {
	from := -1
	for i := range tasks {
		if tasks[i].ID == id {
			from = i
			break
		}
	}
	if from == -1 {
		return nil, ErrUnknownTask
	}
	if position < 0 {
		position = 0
	}
	if position > len(tasks)-1 {
		position = len(tasks) - 1
	}

	out := make([]Task, 0, len(tasks))
	out = append(out, tasks[:from]...)
	out = append(out, tasks[from+1:]...)
	rest := append([]Task{tasks[from]}, out[position:]...)
	out = append(out[:position], rest...)
	for i := range out {
		out[i].Priority = i
	}
	return out, nil
}

// AgeLabel formats how long ago a task was created: "Just now" under a
// minute, then minutes, hours, days (up to 29), 30-day months, and years.
func AgeLabel(createdAt, now time.Time) string {
	elapsed := now.Sub(createdAt)
	if elapsed < 0 {
		elapsed = 0
	}
	minutes := int(elapsed / time.Minute)
	if minutes < 1 {
		return "Just now"
	}
	if minutes < 60 {
		return agoLabel(minutes, "minute")
	}
	hours := minutes / 60
	if hours < 24 {
		return agoLabel(hours, "hour")
	}
	days := hours / 24
	if days < 30 {
		return agoLabel(days, "day")
	}
	months := days / 30
	if months < 12 {
		return agoLabel(months, "month")
	}
	return agoLabel(months/12, "year")
}

func agoLabel(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s ago", unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}
