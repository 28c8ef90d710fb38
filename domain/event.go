package domain

import "github.com/bytedance/sonic"

// Audit event types emitted by the API on successful mutations.
const (
	EventTaskCreated    = "task-created"
	EventTaskUpdated    = "task-updated"
	EventTaskDeleted    = "task-deleted"
	EventTasksReordered = "tasks-reordered"
)

// Event records a completed mutation for the audit stream.
type Event struct {
	ID         string                 `json:"id"`
	EntityType string                 `json:"entityType"`
	EntityID   string                 `json:"entityId,omitempty"`
	Type       string                 `json:"type"`
	Data       sonic.NoCopyRawMessage `json:"data,omitempty"`
	Timestamp  int64                  `json:"timestamp"`
}

// EventEnvelope wraps an event with the identity that performed it.
type EventEnvelope struct {
	UserID string `json:"userId"`
	Event  Event  `json:"event"`
}
