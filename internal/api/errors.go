package api

import (
	"errors"
	"net/http"

	"iencode/internal/queue"
	"iencode/internal/workflow"
)

// Stable error codes shared by the HTTP and RPC transports.
const (
	CodeInvalid     = "invalid_payload"
	CodeNotFound    = "not_found"
	CodeNotOwner    = "not_owner"
	CodeNotQueued   = "not_queued"
	CodeDuplicate   = "duplicate"
	CodeQueueFull   = "queue_full"
	CodeUnavailable = "unavailable"
	CodeInternal    = "internal"
)

// ErrorStatus maps an error onto an HTTP status code and a stable code.
func ErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, queue.ErrInvalidPayload):
		return http.StatusBadRequest, CodeInvalid
	case errors.Is(err, queue.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, queue.ErrNotOwner):
		return http.StatusForbidden, CodeNotOwner
	case errors.Is(err, queue.ErrNotQueued):
		return http.StatusConflict, CodeNotQueued
	case errors.Is(err, queue.ErrDuplicateJob):
		return http.StatusConflict, CodeDuplicate
	case errors.Is(err, queue.ErrQueueFull):
		return http.StatusTooManyRequests, CodeQueueFull
	case errors.Is(err, workflow.ErrNotRunning):
		return http.StatusServiceUnavailable, CodeUnavailable
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// ErrorFromCode rebuilds a sentinel-wrapped error from a transport code so
// clients can test results with errors.Is.
func ErrorFromCode(code, message string) error {
	var sentinel error
	switch code {
	case CodeInvalid:
		sentinel = queue.ErrInvalidPayload
	case CodeNotFound:
		sentinel = queue.ErrNotFound
	case CodeNotOwner:
		sentinel = queue.ErrNotOwner
	case CodeNotQueued:
		sentinel = queue.ErrNotQueued
	case CodeDuplicate:
		sentinel = queue.ErrDuplicateJob
	case CodeQueueFull:
		sentinel = queue.ErrQueueFull
	case CodeUnavailable:
		sentinel = workflow.ErrNotRunning
	default:
		return errors.New(message)
	}
	return &codedError{sentinel: sentinel, message: message}
}

type codedError struct {
	sentinel error
	message  string
}

func (e *codedError) Error() string { return e.message }

func (e *codedError) Unwrap() error { return e.sentinel }
