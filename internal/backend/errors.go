package backend

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jo-hoe/goannotate/internal/core"
	"github.com/labstack/echo/v4"
)

const internalErrorMessage = "Internal server error"

// statusByKind is the only place where error kinds turn into HTTP statuses.
var statusByKind = map[core.Kind]int{
	core.KindInvalidInput:      http.StatusBadRequest,
	core.KindNotFound:          http.StatusNotFound,
	core.KindCompositorFailure: http.StatusInternalServerError,
	core.KindStorageFailure:    http.StatusInternalServerError,
	core.KindUnauthorized:      http.StatusUnauthorized,
	core.KindForbidden:         http.StatusForbidden,
	core.KindInternal:          http.StatusInternalServerError,
}

type errorResponse struct {
	Message string `json:"message"`
}

type forbiddenResponse struct {
	Message       string   `json:"message"`
	RequiredRoles []string `json:"requiredRoles"`
	ActualRoles   []string `json:"actualRoles"`
}

// statusForError resolves the HTTP status of any error a handler or middleware returns.
func statusForError(err error) int {
	var coreErr *core.Error
	if errors.As(err, &coreErr) {
		return statusByKind[coreErr.Kind]
	}
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code
	}
	return http.StatusInternalServerError
}

// HTTPErrorHandler writes every error as a JSON body with a message.
// Server-side failures are logged in full and answered with a generic message.
func HTTPErrorHandler(err error, ctx echo.Context) {
	if ctx.Response().Committed {
		return
	}

	status := statusForError(err)
	body := any(errorResponse{Message: clientMessage(err, status)})

	var roleErr *RoleError
	if errors.As(err, &roleErr) {
		body = forbiddenResponse{
			Message:       clientMessage(err, status),
			RequiredRoles: nonNil(roleErr.Required),
			ActualRoles:   nonNil(roleErr.Actual),
		}
	}

	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			"method", ctx.Request().Method,
			"route", ctx.Path(),
			"status", status,
			"error", err)
	} else {
		slog.Debug("request rejected", "route", ctx.Path(), "status", status, "error", err)
	}

	var writeErr error
	if ctx.Request().Method == http.MethodHead {
		writeErr = ctx.NoContent(status)
	} else {
		writeErr = ctx.JSON(status, body)
	}
	if writeErr != nil {
		slog.Error("failed to write error response", "error", writeErr)
	}
}

func clientMessage(err error, status int) string {
	if status >= http.StatusInternalServerError {
		return internalErrorMessage
	}

	var coreErr *core.Error
	if errors.As(err, &coreErr) {
		return coreErr.Message
	}
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		if message, ok := httpErr.Message.(string); ok {
			return message
		}
		return fmt.Sprint(httpErr.Message)
	}
	return http.StatusText(status)
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
