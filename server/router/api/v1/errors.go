package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/shepherd/ai/core/llm"
	"github.com/hrygo/shepherd/ai/observability/logging"
	"github.com/hrygo/shepherd/ai/pastoral"
	"github.com/hrygo/shepherd/ai/routing"
)

// statusClientClosedRequest is the nginx convention for a client that went away.
const statusClientClosedRequest = 499

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func requestID(c echo.Context) string {
	return c.Response().Header().Get(echo.HeaderXRequestID)
}

func writeError(c echo.Context, status int, message string) error {
	return c.JSON(status, errorResponse{Error: message, RequestID: requestID(c)})
}

// statusFor maps a routing or generation error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, routing.ErrInvalidRequest), errors.Is(err, pastoral.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	case errors.Is(err, context.DeadlineExceeded) && !routing.IsTerminal(err):
		return http.StatusGatewayTimeout
	case routing.IsTerminal(err), errors.Is(err, pastoral.ErrEmptyOutput):
		return http.StatusBadGateway
	case errors.As(err, new(*llm.Error)):
		// Backend failure outside the fallback, e.g. a stream that broke before its first chunk.
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeRoutingError(c echo.Context, err error) error {
	status := statusFor(err)
	message := err.Error()
	switch status {
	case http.StatusBadGateway:
		message = "AI service unavailable"
		if errors.Is(err, pastoral.ErrEmptyOutput) {
			message = err.Error()
		}
	case http.StatusInternalServerError:
		message = "internal error"
	}

	if status >= http.StatusInternalServerError {
		logging.FromContext(c.Request().Context()).Error("AI request failed",
			"status", status,
			"error", err,
		)
	}
	return writeError(c, status, message)
}
