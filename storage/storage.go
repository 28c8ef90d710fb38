package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"tasklist-api/domain"
)

// accountPartition holds every account row; the row key is the normalized
// email so uniqueness is enforced by the table itself.
const accountPartition = "account"

// aztables rejects entity batches above this size.
const maxBatchSize = 100

// NotFoundError is returned when a row does not exist in the caller's
// partition. Rows owned by other identities are indistinguishable from
// missing ones.
type NotFoundError struct{ Resource string }

func (e NotFoundError) Error() string { return e.Resource + " not found" }

// NotFound marks the error for classification by callers.
func (e NotFoundError) NotFound() {}

// ConflictError is returned when an insert collides with an existing row.
type ConflictError struct{ Resource string }

func (e ConflictError) Error() string { return e.Resource + " already exists" }

// Conflict marks the error for classification by callers.
func (e ConflictError) Conflict() {}

// Storage provides access to the underlying persistence mechanisms.
type Storage struct {
	taskTable     *aztables.Client
	accountTable  *aztables.Client
	settingsTable *aztables.Client
	auditQueue    *azqueue.QueueClient
}

// New creates a Storage instance from the given connection string.
func New(connStr, tasksTable, accountsTable, settingsTable, auditQueue string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	aq, err := azqueue.NewQueueClientFromConnectionString(connStr, auditQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{
		taskTable:     svc.NewClient(tasksTable),
		accountTable:  svc.NewClient(accountsTable),
		settingsTable: svc.NewClient(settingsTable),
		auditQueue:    aq,
	}, nil
}

type taskEntity struct {
	aztables.Entity
	Text      string `json:"Text"`
	Notes     string `json:"Notes"`
	Priority  int    `json:"Priority"`
	CreatedAt string `json:"CreatedAt"`
}

func (e taskEntity) toTask() domain.Task {
	createdAt, _ := time.Parse(time.RFC3339Nano, e.CreatedAt)
	return domain.Task{
		ID:        e.RowKey,
		Text:      e.Text,
		Notes:     e.Notes,
		Priority:  e.Priority,
		UserID:    e.PartitionKey,
		CreatedAt: createdAt,
	}
}

// ListTasks retrieves every task in the user's partition, in storage order.
func (s *Storage) ListTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	filter := "PartitionKey eq '" + userID + "'"
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var ent taskEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			tasks = append(tasks, ent.toTask())
		}
	}
	return tasks, nil
}

// GetTask retrieves a single task owned by the user.
func (s *Storage) GetTask(ctx context.Context, userID, taskID string) (domain.Task, error) {
	resp, err := s.taskTable.GetEntity(ctx, userID, taskID, nil)
	if err != nil {
		if httpStatus(err) == 404 {
			return domain.Task{}, NotFoundError{Resource: "task"}
		}
		return domain.Task{}, err
	}
	var ent taskEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return domain.Task{}, err
	}
	return ent.toTask(), nil
}

// InsertTask creates a task with a generated id and server-side timestamp.
func (s *Storage) InsertTask(ctx context.Context, userID, text string, priority int) (domain.Task, error) {
	ent := taskEntity{
		Entity:    aztables.Entity{PartitionKey: userID, RowKey: uuid.NewString()},
		Text:      text,
		Priority:  priority,
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(ent)
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.taskTable.AddEntity(ctx, data, nil); err != nil {
		return domain.Task{}, err
	}
	return ent.toTask(), nil
}

type taskPatchEntity struct {
	aztables.Entity
	Notes    *string `json:"Notes,omitempty"`
	Priority *int    `json:"Priority,omitempty"`
}

// UpdateTask merges the non-nil patch fields into an existing task.
func (s *Storage) UpdateTask(ctx context.Context, userID, taskID string, patch domain.TaskPatch) error {
	ent := taskPatchEntity{
		Entity:   aztables.Entity{PartitionKey: userID, RowKey: taskID},
		Notes:    patch.Notes,
		Priority: patch.Priority,
	}
	data, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	opts := &aztables.UpdateEntityOptions{UpdateMode: aztables.UpdateModeMerge}
	if _, err := s.taskTable.UpdateEntity(ctx, data, opts); err != nil {
		if httpStatus(err) == 404 {
			return NotFoundError{Resource: "task"}
		}
		return err
	}
	return nil
}

// DeleteTask removes a task from the user's partition.
func (s *Storage) DeleteTask(ctx context.Context, userID, taskID string) error {
	if _, err := s.taskTable.DeleteEntity(ctx, userID, taskID, nil); err != nil {
		if httpStatus(err) == 404 {
			return NotFoundError{Resource: "task"}
		}
		return err
	}
	return nil
}

// ReorderTasks persists the priorities of the given sequence as entity-batch
// transactions against the user's partition: either a whole batch applies or
// none of it does. Sequences beyond the batch ceiling are split into
// consecutive transactions of at most maxBatchSize rows each.
func (s *Storage) ReorderTasks(ctx context.Context, userID string, tasks []domain.Task) error {
	for start := 0; start < len(tasks); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(tasks) {
			end = len(tasks)
		}
		actions := make([]aztables.TransactionAction, 0, end-start)
		for _, task := range tasks[start:end] {
			priority := task.Priority
			ent := taskPatchEntity{
				Entity:   aztables.Entity{PartitionKey: userID, RowKey: task.ID},
				Priority: &priority,
			}
			data, err := json.Marshal(ent)
			if err != nil {
				return err
			}
			actions = append(actions, aztables.TransactionAction{
				ActionType: aztables.TransactionTypeUpdateMerge,
				Entity:     data,
			})
		}
		if _, err := s.taskTable.SubmitTransaction(ctx, actions, nil); err != nil {
			if httpStatus(err) == 404 {
				return NotFoundError{Resource: "task"}
			}
			return err
		}
	}
	return nil
}

type accountEntity struct {
	aztables.Entity
	UserID       string `json:"UserId"`
	PasswordHash string `json:"PasswordHash"`
	CreatedAt    string `json:"CreatedAt"`
}

// CreateAccount inserts a new account row keyed by normalized email.
func (s *Storage) CreateAccount(ctx context.Context, account domain.Account) error {
	ent := accountEntity{
		Entity:       aztables.Entity{PartitionKey: accountPartition, RowKey: domain.NormalizeEmail(account.Email)},
		UserID:       account.ID,
		PasswordHash: string(account.PasswordHash),
		CreatedAt:    account.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	if _, err := s.accountTable.AddEntity(ctx, data, nil); err != nil {
		if httpStatus(err) == 409 {
			return ConflictError{Resource: "account"}
		}
		return err
	}
	return nil
}

// GetAccount looks up an account by email.
func (s *Storage) GetAccount(ctx context.Context, email string) (domain.Account, error) {
	resp, err := s.accountTable.GetEntity(ctx, accountPartition, domain.NormalizeEmail(email), nil)
	if err != nil {
		if httpStatus(err) == 404 {
			return domain.Account{}, NotFoundError{Resource: "account"}
		}
		return domain.Account{}, err
	}
	var ent accountEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return domain.Account{}, err
	}
	createdAt, _ := time.Parse(time.RFC3339Nano, ent.CreatedAt)
	return domain.Account{
		ID:           ent.UserID,
		Email:        ent.RowKey,
		PasswordHash: []byte(ent.PasswordHash),
		CreatedAt:    createdAt,
	}, nil
}

type settingsEntity struct {
	aztables.Entity
	SortField      string `json:"SortField"`
	SortDir        string `json:"SortDir"`
	SelectedTaskID string `json:"SelectedTaskId"`
}

// FetchSettings returns the user's view settings, falling back to defaults
// when the user never saved any.
func (s *Storage) FetchSettings(ctx context.Context, userID string) (domain.Settings, error) {
	resp, err := s.settingsTable.GetEntity(ctx, userID, userID, nil)
	if err != nil {
		if httpStatus(err) == 404 {
			return domain.DefaultSettings(), nil
		}
		return domain.Settings{}, err
	}
	return decodeSettingsEntity(resp.Value)
}

func decodeSettingsEntity(data []byte) (domain.Settings, error) {
	var ent settingsEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Settings{}, err
	}
	settings := domain.DefaultSettings()
	if field, err := domain.ParseSortField(ent.SortField); err == nil {
		settings.SortField = field
	}
	if dir, err := domain.ParseSortDir(ent.SortDir); err == nil {
		settings.SortDir = dir
	}
	settings.SelectedTaskID = ent.SelectedTaskID
	return settings, nil
}

// SaveSettings upserts the user's view settings.
func (s *Storage) SaveSettings(ctx context.Context, userID string, settings domain.Settings) error {
	ent := settingsEntity{
		Entity:         aztables.Entity{PartitionKey: userID, RowKey: userID},
		SortField:      string(settings.SortField),
		SortDir:        string(settings.SortDir),
		SelectedTaskID: settings.SelectedTaskID,
	}
	data, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	_, err = s.settingsTable.UpsertEntity(ctx, data, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	return err
}

// EnqueueEvents sends the given audit events to the audit queue.
func (s *Storage) EnqueueEvents(ctx context.Context, userID string, events []domain.Event) error {
	for _, ev := range events {
		env := domain.EventEnvelope{UserID: userID, Event: ev}
		data, err := sonic.Marshal(env)
		if err != nil {
			return err
		}
		if _, err := s.auditQueue.EnqueueMessage(ctx, string(data), nil); err != nil {
			return err
		}
	}
	return nil
}

func httpStatus(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}
