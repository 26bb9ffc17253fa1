package api

import (
	"fmt"
	"strings"
	"time"

	"iencode/internal/progress"
	"iencode/internal/queue"
	"iencode/internal/workflow"
)

// FromJob converts a job record to its API representation.
func FromJob(job *queue.Job) JobItem {
	if job == nil {
		return JobItem{}
	}

	dto := JobItem{
		ID:              job.ID,
		Owner:           job.Owner,
		PayloadRef:      job.PayloadRef,
		Quality:         job.Quality,
		Lane:            string(job.Lane),
		Status:          string(job.Status),
		Seq:             job.Seq,
		Progress:        fromProgress(job.Stage, job.Progress),
		CancelRequested: job.CancelRequested,
		ResultRef:       job.ResultRef,
		ErrorMessage:    job.ErrorInfo,
		CreatedAt:       formatTime(job.CreatedAt),
		UpdatedAt:       formatTime(job.UpdatedAt),
	}
	if job.StartedAt != nil {
		dto.StartedAt = formatTime(*job.StartedAt)
	}
	if job.FinishedAt != nil {
		dto.FinishedAt = formatTime(*job.FinishedAt)
	}
	if job.Status == queue.StatusSucceeded {
		dto.Progress.Percent = 100
		dto.Progress.Bar = progress.Bar(1)
	}
	for _, r := range job.Retries {
		dto.Retries = append(dto.Retries, RetryRecord{
			Stage:   string(r.Stage),
			Attempt: r.Attempt,
			Error:   r.Error,
			At:      formatTime(r.At),
		})
	}
	return dto
}

func fromProgress(stage queue.Stage, p queue.Progress) JobProgress {
	return JobProgress{
		Stage:      string(stage),
		Label:      progress.StageLabel(stage),
		Percent:    p.Fraction * 100,
		Bar:        progress.Bar(p.Fraction),
		BytesDone:  p.BytesDone,
		BytesTotal: p.BytesTotal,
		ETASeconds: int64(p.ETA / time.Second),
		Message:    p.Message,
	}
}

// FromSnapshot converts a controller snapshot to the list payload.
func FromSnapshot(snap workflow.Snapshot) QueueListResponse {
	resp := QueueListResponse{
		Running: make([]JobItem, 0, len(snap.Running)),
		Queued:  make([]JobItem, 0, len(snap.Queued)),
		TakenAt: formatTime(snap.TakenAt),
	}
	for _, entry := range snap.Running {
		resp.Running = append(resp.Running, FromJob(entry.Job))
	}
	for _, entry := range snap.Queued {
		item := FromJob(entry.Job)
		item.Position = entry.Position
		resp.Queued = append(resp.Queued, item)
	}
	return resp
}

// FromStatusSummary converts a workflow status summary to API payload.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	depths := make(map[string]int, len(summary.LaneDepths))
	for lane, depth := range summary.LaneDepths {
		depths[string(lane)] = depth
	}
	health := make([]StageHealth, 0, len(summary.Health))
	for _, h := range summary.Health {
		health = append(health, StageHealth{Name: h.Name, Ready: h.Ready, Detail: h.Detail})
	}
	return WorkflowStatus{
		Running:             summary.Running,
		PoolSize:            summary.PoolSize,
		PoolBusy:            summary.PoolBusy,
		LaneDepths:          depths,
		LiveJobs:            summary.LiveJobs,
		LastError:           summary.LastError,
		PersistenceFailures: summary.PersistenceFailures,
		ProgressDropped:     summary.ProgressDropped,
		CancelLatency:       summary.CancelLatency,
		StageHealth:         health,
	}
}

// FromCancelAck converts a cancel acknowledgement.
func FromCancelAck(ack workflow.CancelAck) CancelResponse {
	return CancelResponse{ID: ack.JobID, Status: string(ack.Status), AlreadyTerminal: ack.AlreadyTerminal}
}

// FromReprioritizeAck converts a reprioritize acknowledgement.
func FromReprioritizeAck(ack workflow.ReprioritizeAck) ReprioritizeResponse {
	return ReprioritizeResponse{ID: ack.JobID, From: string(ack.From), To: string(ack.To), Position: ack.Position}
}

// FromUpdate converts a reporter update for streaming.
func FromUpdate(update progress.Update) ProgressUpdate {
	out := ProgressUpdate{
		Kind:   string(update.Event.Kind),
		JobID:  update.Event.JobID,
		Owner:  update.View.Owner,
		Status: string(update.View.Status),
		Stage:  string(update.View.Stage),
		Stages: make([]StageState, 0, len(update.View.Stages)),
		Text:   update.View.Text,
		At:     formatTime(update.Event.At),
		Result: update.Event.ResultRef,
		Error:  update.Event.Error,
	}
	for _, row := range update.View.Stages {
		out.Stages = append(out.Stages, StageState{
			Stage:   string(row.Stage),
			Label:   row.Label,
			State:   row.State,
			Percent: row.Fraction * 100,
		})
	}
	return out
}

// ToEnqueueRequest validates the transport lane and builds the workflow request.
func ToEnqueueRequest(req EnqueueRequest) (workflow.EnqueueRequest, error) {
	lane, err := ParseLane(req.Lane)
	if err != nil {
		return workflow.EnqueueRequest{}, err
	}
	return workflow.EnqueueRequest{
		Owner:      strings.TrimSpace(req.Owner),
		PayloadRef: strings.TrimSpace(req.PayloadRef),
		Lane:       lane,
		Quality:    req.Quality,
	}, nil
}

// ParseLane converts a transport lane name, accepting the legacy aliases.
func ParseLane(value string) (queue.Lane, error) {
	lane, ok := queue.ParseLane(value)
	if !ok {
		return "", fmt.Errorf("%w: unknown lane %q", queue.ErrInvalidPayload, value)
	}
	return lane, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
