package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"tasklist-api/domain"
)

// Credential failures deliberately collapse to one message so callers cannot
// probe which emails exist.
const badCredentials = "invalid email or password"

func signup(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		var req credentialsRequest
		if err := decodeBody(c, credentialsMaxSize, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		if err := domain.ValidateCredentials(req.Email, req.Password); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "could not create account"})
		}

		account := domain.Account{
			ID:           uuid.NewString(),
			Email:        domain.NormalizeEmail(req.Email),
			PasswordHash: hash,
			CreatedAt:    time.Now().UTC(),
		}
		if err := store.CreateAccount(ctx, account); err != nil {
			var conflict ConflictError
			if errors.As(err, &conflict) {
				return c.JSON(http.StatusConflict, errorResponse{Error: "an account with this email already exists"})
			}
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "could not create account"})
		}

		token, expiresAt, err := auth.Issue(account.ID)
		if err != nil {
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "could not issue token"})
		}
		return c.JSON(http.StatusCreated, authResponse{Token: token, ExpiresAt: expiresAt.Unix(), UserID: account.ID})
	}
}

func signin(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		var req credentialsRequest
		if err := decodeBody(c, credentialsMaxSize, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}

		account, err := store.GetAccount(ctx, req.Email)
		if err != nil {
			var notFound NotFoundError
			if errors.As(err, &notFound) {
				return c.JSON(http.StatusUnauthorized, errorResponse{Error: badCredentials})
			}
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "could not sign in"})
		}
		if err := bcrypt.CompareHashAndPassword(account.PasswordHash, []byte(req.Password)); err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: badCredentials})
		}

		token, expiresAt, err := auth.Issue(account.ID)
		if err != nil {
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "could not issue token"})
		}
		return c.JSON(http.StatusOK, authResponse{Token: token, ExpiresAt: expiresAt.Unix(), UserID: account.ID})
	}
}

func signout(auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if err := auth.RevokeAuthHeader(ctx, c.Request().Header.Get(echo.HeaderAuthorization)); err != nil {
			return c.String(http.StatusUnauthorized, normalizeAuthError(err))
		}
		return c.NoContent(http.StatusNoContent)
	}
}
