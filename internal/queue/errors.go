package queue

import "errors"

// Caller-facing errors returned synchronously by the scheduler and the queue
// controller. Transports map them to status codes.
var (
	ErrDuplicateJob   = errors.New("duplicate job")
	ErrNotFound       = errors.New("job not found")
	ErrNotOwner       = errors.New("requester does not own job")
	ErrNotQueued      = errors.New("job is not queued")
	ErrInvalidPayload = errors.New("invalid payload")
	ErrQueueFull      = errors.New("queue full")
)
