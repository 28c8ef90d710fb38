package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"tasklist-api/domain"
)

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, store Storage, auth Authenticator, deduper Deduper, logger *log.Logger) {
	e.POST("/api/auth/signup", signup(store, auth))
	e.POST("/api/auth/signin", signin(store, auth))
	e.POST("/api/auth/signout", signout(auth))

	e.GET("/api/tasks", getTasks(store, auth, logger))
	e.POST("/api/tasks", postTask(store, auth, deduper))
	e.PATCH("/api/tasks/:id", patchTask(store, auth))
	e.DELETE("/api/tasks/:id", deleteTask(store, auth))
	e.POST("/api/tasks/reorder", reorderTasks(store, auth))
	e.GET("/api/tasks/:id/notes", getNotes(store, auth))
	e.GET("/api/tasks/stream", streamTasks(store, auth))

	e.GET("/api/settings", getSettings(store, auth))
	e.POST("/api/settings/sort", toggleSort(store, auth))
	e.PUT("/api/settings/selection", putSelection(store, auth))

	e.GET("/healthz", healthz(store))

	initAuditSender(store, logger)
}

func healthz(_ Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func decodeBody(c echo.Context, maxSize int64, v any) error {
	lr := io.LimitReader(c.Request().Body, maxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// resolveSort picks the ordering for a list request: explicit query
// parameters win, otherwise the identity's stored view settings apply.
// Landing on age without a direction means newest first.
func resolveSort(ctx context.Context, c echo.Context, store Storage, userID string) (domain.SortField, domain.SortDir, error) {
	sortParam := strings.TrimSpace(c.QueryParam("sort"))
	dirParam := strings.TrimSpace(c.QueryParam("dir"))
	if sortParam == "" && dirParam == "" {
		settings, err := store.FetchSettings(ctx, userID)
		if err != nil {
			c.Logger().Error(err)
			settings = domain.DefaultSettings()
		}
		return settings.SortField, settings.SortDir, nil
	}

	field := domain.SortByPriority
	if sortParam != "" {
		parsed, err := domain.ParseSortField(sortParam)
		if err != nil {
			return "", "", err
		}
		field = parsed
	}

	dir := domain.SortAsc
	if field == domain.SortByAge {
		dir = domain.SortDesc
	}
	if dirParam != "" {
		parsed, err := domain.ParseSortDir(dirParam)
		if err != nil {
			return "", "", err
		}
		dir = parsed
	}
	return field, dir, nil
}

func labelAges(tasks []domain.Task, now time.Time) {
	for i := range tasks {
		tasks[i].Age = domain.AgeLabel(tasks[i].CreatedAt, now)
	}
}

func getTasks(store Storage, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newListRequestMetrics(ctx, logger)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		userID, authErr := auth.UserIDFromAuthHeader(ctx, c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, normalizeAuthError(authErr))
			return err
		}

		field, dir, sortErr := resolveSort(ctx, c, store, userID)
		if sortErr != nil {
			metrics.SetErrorStage("invalid_sort")
			err = c.String(http.StatusBadRequest, sortErr.Error())
			return err
		}
		metrics.SetSort(string(field), string(dir))

		fetchStart := time.Now()
		tasks, fetchErr := store.ListTasks(ctx, userID)
		metrics.ObserveFetch(time.Since(fetchStart))
		if fetchErr != nil {
			metrics.SetErrorStage("storage")
			c.Logger().Error(fetchErr)
			err = c.String(http.StatusInternalServerError, fetchErr.Error())
			return err
		}

		domain.SortTasks(tasks, field, dir)
		labelAges(tasks, time.Now())
		metrics.SetTasksReturned(len(tasks))

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, tasksResponse{Tasks: tasks})
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func postTask(store Storage, auth Authenticator, deduper Deduper) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(ctx, c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, normalizeAuthError(err))
		}

		var req createTaskRequest
		if err := decodeBody(c, taskBodyMaxSize, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		req.Text = strings.TrimSpace(req.Text)
		if req.Text == "" {
			return c.String(http.StatusBadRequest, "task text must not be empty")
		}

		idemKey := strings.TrimSpace(c.Request().Header.Get("Idempotency-Key"))
		if idemKey != "" && deduper != nil {
			added, dedupErr := deduper.Add(ctx, userID, idemKey)
			if dedupErr != nil {
				// Dedupe is advisory; keep serving when redis is down.
				c.Logger().Warnf("idempotency check failed: %v", dedupErr)
				idemKey = ""
			} else if !added {
				return c.String(http.StatusConflict, "duplicate request")
			}
		}

		tasks, err := store.ListTasks(ctx, userID)
		if err != nil {
			releaseIdempotencyKey(ctx, c, deduper, userID, idemKey)
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}

		// New tasks append to the end of the manual ordering.
		task, err := store.InsertTask(ctx, userID, req.Text, len(tasks))
		if err != nil {
			releaseIdempotencyKey(ctx, c, deduper, userID, idemKey)
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}

		recordAudit(userID, "task", task.ID, domain.EventTaskCreated, task)
		task.Age = domain.AgeLabel(task.CreatedAt, time.Now())
		return c.JSON(http.StatusCreated, task)
	}
}

func releaseIdempotencyKey(ctx context.Context, c echo.Context, deduper Deduper, userID, key string) {
	if deduper == nil || key == "" {
		return
	}
	if err := deduper.Remove(ctx, userID, key); err != nil {
		c.Logger().Errorf("idempotency rollback failed: %v, key: %s, user: %s", err, key, userID)
	}
}

func patchTask(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(ctx, c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, normalizeAuthError(err))
		}

		var patch domain.TaskPatch
		if err := decodeBody(c, notesMaxSize, &patch); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if patch.Empty() {
			return c.String(http.StatusBadRequest, "empty patch")
		}
		if err := patch.Validate(); err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}

		taskID := c.Param("id")
		if err := store.UpdateTask(ctx, userID, taskID, patch); err != nil {
			var notFound NotFoundError
			if errors.As(err, &notFound) {
				return c.String(http.StatusNotFound, notFound.Error())
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}

		recordAudit(userID, "task", taskID, domain.EventTaskUpdated, patch)
		return c.NoContent(http.StatusNoContent)
	}
}

func deleteTask(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(ctx, c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, normalizeAuthError(err))
		}

		taskID := c.Param("id")
		if err := store.DeleteTask(ctx, userID, taskID); err != nil {
			var notFound NotFoundError
			if errors.As(err, &notFound) {
				return c.String(http.StatusNotFound, notFound.Error())
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}

		clearSelectionIfDeleted(ctx, c, store, userID, taskID)
		recordAudit(userID, "task", taskID, domain.EventTaskDeleted, nil)
		return c.NoContent(http.StatusNoContent)
	}
}

// clearSelectionIfDeleted drops a stored selection that pointed at the task
// just removed. The delete already succeeded, so settings failures are only
// logged.
func clearSelectionIfDeleted(ctx context.Context, c echo.Context, store Storage, userID, taskID string) {
	settings, err := store.FetchSettings(ctx, userID)
	if err != nil {
		c.Logger().Error(err)
		return
	}
	if settings.SelectedTaskID != taskID {
		return
	}
	settings.SelectedTaskID = ""
	if err := store.SaveSettings(ctx, userID, settings); err != nil {
		c.Logger().Error(err)
	}
}

func getSettings(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(ctx, c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, normalizeAuthError(err))
		}
		settings, err := store.FetchSettings(ctx, userID)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, settings)
	}
}

func toggleSort(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(ctx, c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, normalizeAuthError(err))
		}

		var req sortRequest
		if err := decodeBody(c, credentialsMaxSize, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		field, err := domain.ParseSortField(req.Field)
		if err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}

		settings, err := store.FetchSettings(ctx, userID)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		settings = settings.ToggleSort(field)
		if err := store.SaveSettings(ctx, userID, settings); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, settings)
	}
}

func putSelection(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(ctx, c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, normalizeAuthError(err))
		}

		var req selectionRequest
		if err := decodeBody(c, credentialsMaxSize, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}

		if req.TaskID != "" {
			if _, err := store.GetTask(ctx, userID, req.TaskID); err != nil {
				var notFound NotFoundError
				if errors.As(err, &notFound) {
					return c.String(http.StatusNotFound, notFound.Error())
				}
				c.Logger().Error(err)
				return c.String(http.StatusInternalServerError, err.Error())
			}
		}

		settings, err := store.FetchSettings(ctx, userID)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		settings.SelectedTaskID = req.TaskID
		if err := store.SaveSettings(ctx, userID, settings); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, settings)
	}
}
