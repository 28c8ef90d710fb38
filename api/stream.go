package api

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"tasklist-api/domain"
)

const streamInterval = 5 * time.Second

// streamTasks pushes the caller's task list as server-sent events, re-read on
// a fixed interval. EventSource clients cannot set headers, so the token may
// arrive as a query parameter instead.
func streamTasks(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if authHeader == "" {
			if token := c.QueryParam("token"); token != "" {
				authHeader = "Bearer " + token
			}
		}
		userID, err := auth.UserIDFromAuthHeader(ctx, authHeader)
		if err != nil {
			return c.String(http.StatusUnauthorized, normalizeAuthError(err))
		}

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}

		ticker := time.NewTicker(streamInterval)
		defer ticker.Stop()
		for {
			tasks, err := store.ListTasks(ctx, userID)
			if err == nil {
				settings, settingsErr := store.FetchSettings(ctx, userID)
				if settingsErr != nil {
					settings = domain.DefaultSettings()
				}
				domain.SortTasks(tasks, settings.SortField, settings.SortDir)
				labelAges(tasks, time.Now())

				data, _ := sonic.Marshal(tasksResponse{Tasks: tasks})
				if _, err := c.Response().Write([]byte("data: ")); err != nil {
					return nil
				}
				if _, err := c.Response().Write(data); err != nil {
					return nil
				}
				if _, err := c.Response().Write([]byte("\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				continue
			}
		}
	}
}
