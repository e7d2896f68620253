package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/mixq/internal/kernels"
	"github.com/samcharles93/mixq/internal/layer"
	"github.com/samcharles93/mixq/internal/logger"
	"github.com/samcharles93/mixq/internal/network"
)

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg)
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg)
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
		},
	})
}

// writeRunError maps a layer or network error onto a status code.
func writeRunError(c *echo.Context, err error) error {
	switch {
	case errors.Is(err, network.ErrUnknownLayer):
		return writeNotFound(c, err.Error())
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, layer.ErrInvalidInput),
		errors.Is(err, kernels.ErrSizeMismatch):
		return writeBadRequest(c, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return writeError(c, http.StatusServiceUnavailable, "cancelled_error", err.Error())
	default:
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&out); err != nil {
		return out, newInvalidRequest("invalid JSON body: " + err.Error())
	}
	return out, nil
}

// WithLogger installs log into each request context.
func WithLogger(log logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			c.SetRequest(c.Request().WithContext(logger.WithContext(c.Request().Context(), log)))
			return next(c)
		}
	}
}
