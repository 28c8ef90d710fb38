package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"tasklist-api/domain"
)

// reorderTasks relocates one task within the manual ordering and rewrites
// every priority to its new positional index. All reassignments are persisted
// in a single transactional batch: either the whole new ordering lands in the
// store or the old one stays intact.
func reorderTasks(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(ctx, c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, normalizeAuthError(err))
		}

		var req reorderRequest
		if err := decodeBody(c, taskBodyMaxSize, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if req.ID == "" {
			return c.String(http.StatusBadRequest, "missing task id")
		}

		tasks, err := store.ListTasks(ctx, userID)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		domain.SortTasks(tasks, domain.SortByPriority, domain.SortAsc)

		reordered, err := domain.Relocate(tasks, req.ID, req.Position)
		if err != nil {
			if errors.Is(err, domain.ErrUnknownTask) {
				return c.String(http.StatusNotFound, "task not found")
			}
			return c.String(http.StatusBadRequest, err.Error())
		}

		if err := store.ReorderTasks(ctx, userID, reordered); err != nil {
			var notFound NotFoundError
			if errors.As(err, &notFound) {
				return c.String(http.StatusConflict, "task list changed, reload and retry")
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}

		recordAudit(userID, "task", req.ID, domain.EventTasksReordered, req)
		labelAges(reordered, time.Now())
		return c.JSON(http.StatusOK, tasksResponse{Tasks: reordered})
	}
}
