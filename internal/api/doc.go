// Package api defines wire-format types and converters for the IPC and HTTP
// API layer. It translates internal queue and workflow models into
// transport-friendly DTOs that the CLI and other consumers can render without
// coupling to internal types.
//
// # Key Types
//
// JobItem: transport representation of a job with progress, retries, result
// reference and queue position.
//
// QueueListResponse: running jobs followed by queued jobs in dispatch order.
//
// WorkflowStatus: controller running state, pool occupancy, lane depths and
// stage health.
//
// ProgressUpdate: one reporter update as streamed over SSE.
//
// # Converters
//
// FromJob: queue.Job -> JobItem with formatted timestamps and the rendered
// progress bar.
//
// FromSnapshot: workflow.Snapshot -> QueueListResponse.
//
// FromStatusSummary: workflow.StatusSummary -> WorkflowStatus.
//
// # Errors
//
// ErrorStatus maps caller-facing queue sentinels onto HTTP status codes and
// stable string codes shared by the HTTP and RPC transports.
//
// # Design Notes
//
// DTOs use camelCase JSON tags for JavaScript/TypeScript consumers. Internal
// enums (queue.Status, queue.Lane, queue.Stage) are exposed as lowercase
// strings. Timestamps use RFC3339 with milliseconds.
package api
