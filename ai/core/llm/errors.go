package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/sashabaranov/go-openai"
)

// Failure classes reported by a Backend. Match with errors.Is.
var (
	ErrAuthentication = errors.New("llm authentication failed")
	ErrRateLimited    = errors.New("llm rate limited")
	ErrModelNotFound  = errors.New("llm model not found")
	ErrBackend        = errors.New("llm backend error")
	ErrTimeout        = errors.New("llm request timed out")
)

// Error is a classified backend failure.
type Error struct {
	Kind       error
	StatusCode int
	Err        error
}

// NewError classifies err under kind.
func NewError(kind error, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Reason returns a short label for err, used as a log and metric value.
func Reason(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrAuthentication):
		return "auth"
	case errors.Is(err, ErrRateLimited):
		return "rate_limit"
	case errors.Is(err, ErrModelNotFound):
		return "not_found"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "backend"
	}
}

// classify maps go-openai and transport errors onto the failure classes.
// Caller cancellation is returned untouched.
func classify(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &Error{Kind: kindForStatus(apiErr.HTTPStatusCode), StatusCode: apiErr.HTTPStatusCode, Err: err}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &Error{Kind: kindForStatus(reqErr.HTTPStatusCode), StatusCode: reqErr.HTTPStatusCode, Err: err}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: ErrTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: ErrTimeout, Err: err}
	}

	return &Error{Kind: ErrBackend, Err: err}
}

func kindForStatus(status int) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuthentication
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusNotFound:
		return ErrModelNotFound
	default:
		return ErrBackend
	}
}
