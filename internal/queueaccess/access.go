package queueaccess

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"iencode/internal/api"
	"iencode/internal/ipc"
	"iencode/internal/queue"
	"iencode/internal/workflow"
)

// ErrDaemonRequired is returned by store-backed access for operations only
// a running daemon can perform. It matches workflow.ErrNotRunning.
var ErrDaemonRequired = fmt.Errorf("daemon must be running for this operation: %w", workflow.ErrNotRunning)

// Access provides queue operations regardless of IPC or direct store backing.
type Access interface {
	List(ctx context.Context, owner string) (api.QueueListResponse, error)
	Describe(ctx context.Context, id string) (*api.JobItem, error)
	Enqueue(ctx context.Context, req api.EnqueueRequest) (api.JobItem, error)
	Cancel(ctx context.Context, id, requester string) (api.CancelResponse, error)
	Reprioritize(ctx context.Context, id, lane, requester string) (api.ReprioritizeResponse, error)
	// Live reports whether calls reach a running daemon.
	Live() bool
}

// NewIPCAccess returns an Access backed by daemon IPC.
func NewIPCAccess(client *ipc.Client) Access {
	return &ipcAccess{client: client}
}

// NewStoreAccess returns a read-only Access backed by direct store access.
func NewStoreAccess(store queue.Store) Access {
	return &storeAccess{store: store}
}

type ipcAccess struct {
	client *ipc.Client
}

func (a *ipcAccess) Live() bool { return true }

func (a *ipcAccess) List(_ context.Context, owner string) (api.QueueListResponse, error) {
	resp, err := a.client.List(owner)
	if err != nil {
		return api.QueueListResponse{}, err
	}
	return *resp, nil
}

func (a *ipcAccess) Describe(_ context.Context, id string) (*api.JobItem, error) {
	resp, err := a.client.Describe(id)
	if err != nil {
		return nil, err
	}
	return &resp.Job, nil
}

func (a *ipcAccess) Enqueue(_ context.Context, req api.EnqueueRequest) (api.JobItem, error) {
	resp, err := a.client.Enqueue(req)
	if err != nil {
		return api.JobItem{}, err
	}
	return resp.Job, nil
}

func (a *ipcAccess) Cancel(_ context.Context, id, requester string) (api.CancelResponse, error) {
	resp, err := a.client.Cancel(id, requester)
	if err != nil {
		return api.CancelResponse{}, err
	}
	return *resp, nil
}

func (a *ipcAccess) Reprioritize(_ context.Context, id, lane, requester string) (api.ReprioritizeResponse, error) {
	resp, err := a.client.Reprioritize(id, lane, requester)
	if err != nil {
		return api.ReprioritizeResponse{}, err
	}
	return *resp, nil
}

type storeAccess struct {
	store queue.Store
}

func (a *storeAccess) Live() bool { return false }

// List rebuilds the last persisted snapshot: interrupted jobs first, then
// queued jobs with the accelerator lane ahead of normal, each in Seq order.
func (a *storeAccess) List(ctx context.Context, owner string) (api.QueueListResponse, error) {
	jobs, err := a.store.ListByStatus(ctx, queue.StatusQueued, queue.StatusRunning, queue.StatusCancelling)
	if err != nil {
		return api.QueueListResponse{}, err
	}
	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].Seq < jobs[j].Seq })

	var running, accel, normal []*queue.Job
	for _, job := range jobs {
		switch {
		case job.Status != queue.StatusQueued:
			running = append(running, job)
		case job.Lane == queue.LaneAccelerator:
			accel = append(accel, job)
		default:
			normal = append(normal, job)
		}
	}

	resp := api.QueueListResponse{
		Running: []api.JobItem{},
		Queued:  []api.JobItem{},
		TakenAt: time.Now().UTC().Format(time.RFC3339),
	}
	for _, job := range running {
		if owner == "" || job.Owner == owner {
			resp.Running = append(resp.Running, api.FromJob(job))
		}
	}
	for i, job := range append(accel, normal...) {
		if owner != "" && job.Owner != owner {
			continue
		}
		item := api.FromJob(job)
		item.Position = i + 1
		resp.Queued = append(resp.Queued, item)
	}
	return resp, nil
}

func (a *storeAccess) Describe(ctx context.Context, id string) (*api.JobItem, error) {
	job, err := a.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	item := api.FromJob(job)
	return &item, nil
}

func (a *storeAccess) Enqueue(context.Context, api.EnqueueRequest) (api.JobItem, error) {
	return api.JobItem{}, ErrDaemonRequired
}

func (a *storeAccess) Cancel(context.Context, string, string) (api.CancelResponse, error) {
	return api.CancelResponse{}, ErrDaemonRequired
}

func (a *storeAccess) Reprioritize(context.Context, string, string, string) (api.ReprioritizeResponse, error) {
	return api.ReprioritizeResponse{}, ErrDaemonRequired
}

// IsDaemonRequired reports whether err came from a store-backed mutation.
func IsDaemonRequired(err error) bool {
	return errors.Is(err, ErrDaemonRequired)
}
