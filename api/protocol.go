package api

import "tasklist-api/domain"

// Request bodies are size-capped before decoding.
const (
	credentialsMaxSize = 4 * 1024   // 4 KiB
	taskBodyMaxSize    = 64 * 1024  // 64 KiB
	notesMaxSize       = 256 * 1024 // 256 KiB
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"`
	UserID    string `json:"userId"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type createTaskRequest struct {
	Text string `json:"text"`
}

type reorderRequest struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
}

type sortRequest struct {
	Field string `json:"field"`
}

type selectionRequest struct {
	TaskID string `json:"taskId"`
}

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

type notesResponse struct {
	TaskID string `json:"taskId"`
	Notes  string `json:"notes"`
}
