package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
	ErrStageFailure  = errors.New("stage failure")
	ErrPersistence   = errors.New("persistence failure")

	// ErrCancellationTimeout marks a collaborator that kept running past the
	// cancel grace window. The job is still finalized as cancelled.
	ErrCancellationTimeout = errors.New("cancellation timeout")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsRetryable reports whether a stage error may be retried by the executor.
// Validation, configuration and timeout markers always win over a transient
// marker further down the chain.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrConfiguration), errors.Is(err, ErrTimeout):
		return false
	}
	return errors.Is(err, ErrTransient)
}

// Hint returns a short operator-facing remediation hint for a stage error.
func Hint(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "check the input reference and requested quality"
	case errors.Is(err, ErrConfiguration):
		return "check config.toml and environment overrides"
	case errors.Is(err, ErrTimeout):
		return "raise the stage timeout or check the input size"
	case errors.Is(err, ErrExternalTool):
		return "inspect the encoder stderr tail in the job error"
	case errors.Is(err, ErrPersistence):
		return "check store connectivity and disk space"
	case errors.Is(err, ErrTransient):
		return "retry later; the remote side may be unavailable"
	default:
		return "check daemon logs for details"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
