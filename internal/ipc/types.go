package ipc

import "iencode/internal/api"

// JobItem mirrors the HTTP API job DTO for internal IPC callers.
type JobItem = api.JobItem

// StopRequest asks the daemon process to shut down.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents combined daemon/workflow status information.
type StatusResponse = api.DaemonStatus

// EnqueueRequest submits a job.
type EnqueueRequest = api.EnqueueRequest

// EnqueueResponse contains the accepted job.
type EnqueueResponse struct {
	Job JobItem `json:"job"`
}

// CancelRequest cancels a job on behalf of Requester.
type CancelRequest struct {
	ID        string `json:"id"`
	Requester string `json:"requester"`
}

// CancelResponse acknowledges a cancel request.
type CancelResponse = api.CancelResponse

// ReprioritizeRequest moves a queued job to Lane.
type ReprioritizeRequest struct {
	ID        string `json:"id"`
	Lane      string `json:"lane"`
	Requester string `json:"requester"`
}

// ReprioritizeResponse reports the new lane and position.
type ReprioritizeResponse = api.ReprioritizeResponse

// ListRequest filters the live snapshot by owner; empty lists everything.
type ListRequest struct {
	Owner string `json:"owner"`
}

// ListResponse contains running and queued jobs.
type ListResponse = api.QueueListResponse

// DescribeRequest fetches a single job by id.
type DescribeRequest struct {
	ID string `json:"id"`
}

// DescribeResponse contains a single job.
type DescribeResponse struct {
	Job JobItem `json:"job"`
}

// PurgeRequest runs the retention sweep now. Zero days uses the configured
// retention.
type PurgeRequest struct {
	Days int `json:"days"`
}

// PurgeResponse reports number of removed job records.
type PurgeResponse struct {
	Removed int64 `json:"removed"`
}

// TestNotificationRequest triggers a test notification.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification result.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
