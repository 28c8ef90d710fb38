package api

import (
	"context"
	"time"

	"tasklist-api/domain"
)

// Storage abstracts persistence for handlers.
type Storage interface {
	ListTasks(ctx context.Context, userID string) ([]domain.Task, error)
	GetTask(ctx context.Context, userID, taskID string) (domain.Task, error)
	InsertTask(ctx context.Context, userID, text string, priority int) (domain.Task, error)
	UpdateTask(ctx context.Context, userID, taskID string, patch domain.TaskPatch) error
	DeleteTask(ctx context.Context, userID, taskID string) error
	ReorderTasks(ctx context.Context, userID string, tasks []domain.Task) error
	FetchSettings(ctx context.Context, userID string) (domain.Settings, error)
	SaveSettings(ctx context.Context, userID string, settings domain.Settings) error
	CreateAccount(ctx context.Context, account domain.Account) error
	GetAccount(ctx context.Context, email string) (domain.Account, error)
	EnqueueEvents(ctx context.Context, userID string, events []domain.Event) error
}

// NotFoundError classifies storage errors for rows missing from the caller's
// partition.
type NotFoundError interface {
	error
	NotFound()
}

// ConflictError classifies storage errors for inserts that collided with an
// existing row.
type ConflictError interface {
	error
	Conflict()
}

// Authenticator is implemented by types able to validate bearer tokens and
// issue new ones for locally managed identities.
type Authenticator interface {
	UserIDFromAuthHeader(ctx context.Context, header string) (string, error)
	Issue(userID string) (token string, expiresAt time.Time, err error)
	RevokeAuthHeader(ctx context.Context, header string) error
}

// Deduper prevents processing of duplicate mutation requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when downstream processing fails.
	Remove(ctx context.Context, userID, key string) error
}

// Revoker tracks invalidated bearer tokens until their natural expiry.
type Revoker interface {
	Revoke(ctx context.Context, token string, until time.Time) error
	IsRevoked(ctx context.Context, token string) (bool, error)
}
