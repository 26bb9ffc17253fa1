package api

import (
	"context"

	"iencode/internal/queue"
	"iencode/internal/workflow"
)

// QueueController abstracts the controller operations exposed over the API.
type QueueController interface {
	Enqueue(ctx context.Context, req workflow.EnqueueRequest) (*queue.Job, error)
	Cancel(ctx context.Context, id, requester string) (workflow.CancelAck, error)
	Reprioritize(ctx context.Context, id string, lane queue.Lane, requester string) (workflow.ReprioritizeAck, error)
	List(owner string) workflow.Snapshot
	Describe(ctx context.Context, id string) (*queue.Job, error)
	Status(ctx context.Context) workflow.StatusSummary
}

// QueueService exposes controller operations returning API DTOs.
type QueueService struct {
	ctrl QueueController
}

// NewQueueService constructs a QueueService around the provided controller.
func NewQueueService(ctrl QueueController) *QueueService {
	if ctrl == nil {
		return nil
	}
	return &QueueService{ctrl: ctrl}
}

// Enqueue submits a job on behalf of req.Owner.
func (s *QueueService) Enqueue(ctx context.Context, req EnqueueRequest) (JobItem, error) {
	if s == nil || s.ctrl == nil {
		return JobItem{}, workflow.ErrNotRunning
	}
	wreq, err := ToEnqueueRequest(req)
	if err != nil {
		return JobItem{}, err
	}
	job, err := s.ctrl.Enqueue(ctx, wreq)
	if err != nil {
		return JobItem{}, err
	}
	return FromJob(job), nil
}

// Cancel requests cancellation of id.
func (s *QueueService) Cancel(ctx context.Context, id, requester string) (CancelResponse, error) {
	if s == nil || s.ctrl == nil {
		return CancelResponse{}, workflow.ErrNotRunning
	}
	ack, err := s.ctrl.Cancel(ctx, id, requester)
	if err != nil {
		return CancelResponse{}, err
	}
	return FromCancelAck(ack), nil
}

// Reprioritize moves a queued job to lane.
func (s *QueueService) Reprioritize(ctx context.Context, id, lane, requester string) (ReprioritizeResponse, error) {
	if s == nil || s.ctrl == nil {
		return ReprioritizeResponse{}, workflow.ErrNotRunning
	}
	parsed, err := ParseLane(lane)
	if err != nil {
		return ReprioritizeResponse{}, err
	}
	ack, err := s.ctrl.Reprioritize(ctx, id, parsed, requester)
	if err != nil {
		return ReprioritizeResponse{}, err
	}
	return FromReprioritizeAck(ack), nil
}

// List returns live jobs, optionally restricted to owner.
func (s *QueueService) List(owner string) QueueListResponse {
	if s == nil || s.ctrl == nil {
		return QueueListResponse{Running: []JobItem{}, Queued: []JobItem{}}
	}
	return FromSnapshot(s.ctrl.List(owner))
}

// Describe fetches a single job, live or finished.
func (s *QueueService) Describe(ctx context.Context, id string) (*JobItem, error) {
	if s == nil || s.ctrl == nil {
		return nil, workflow.ErrNotRunning
	}
	job, err := s.ctrl.Describe(ctx, id)
	if err != nil {
		return nil, err
	}
	dto := FromJob(job)
	return &dto, nil
}

// Status returns the controller summary.
func (s *QueueService) Status(ctx context.Context) WorkflowStatus {
	if s == nil || s.ctrl == nil {
		return WorkflowStatus{LaneDepths: map[string]int{}}
	}
	return FromStatusSummary(s.ctrl.Status(ctx))
}
