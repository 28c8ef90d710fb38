package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// getNotes returns a task's notes either as raw markdown or, with render=1,
// as HTML with links annotated to open in a new context.
func getNotes(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(ctx, c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, normalizeAuthError(err))
		}

		task, err := store.GetTask(ctx, userID, c.Param("id"))
		if err != nil {
			var notFound NotFoundError
			if errors.As(err, &notFound) {
				return c.String(http.StatusNotFound, notFound.Error())
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}

		render := false
		if raw := c.QueryParam("render"); raw != "" {
			parsed, parseErr := strconv.ParseBool(raw)
			if parseErr != nil {
				return c.String(http.StatusBadRequest, "invalid render flag")
			}
			render = parsed
		}

		if !render {
			return c.JSON(http.StatusOK, notesResponse{TaskID: task.ID, Notes: task.Notes})
		}

		html, err := renderNotes(task.Notes)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "could not render notes")
		}
		return c.HTML(http.StatusOK, html)
	}
}
