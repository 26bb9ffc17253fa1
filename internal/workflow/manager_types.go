package workflow

import (
	"time"

	"iencode/internal/pipeline"
	"iencode/internal/queue"
)

// Collaborators bundles the stage implementations the executor drives.
type Collaborators struct {
	Fetcher     pipeline.Fetcher
	Transformer pipeline.Transformer
	Publisher   pipeline.Publisher
}

// EnqueueRequest describes a new encode job.
type EnqueueRequest struct {
	Owner      string
	PayloadRef string
	Lane       queue.Lane
	// Quality is the target output height; zero selects the configured default.
	Quality int
}

// CancelAck reports the result of a cancel request.
type CancelAck struct {
	JobID  string
	Status queue.Status
	// AlreadyTerminal is set when the job had finished before the request.
	AlreadyTerminal bool
}

// ReprioritizeAck reports where a reprioritized job now sits.
type ReprioritizeAck struct {
	JobID    string
	From     queue.Lane
	To       queue.Lane
	Position int
}

// SnapshotEntry is one job in a queue snapshot. Position is the 1-based
// dispatch position for queued jobs and zero for running ones.
type SnapshotEntry struct {
	Job      *queue.Job
	Position int
}

// Snapshot is a point-in-time view: running jobs in dispatch order, then
// queued jobs with accelerator entries ahead of normal ones.
type Snapshot struct {
	Running []SnapshotEntry
	Queued  []SnapshotEntry
	TakenAt time.Time
}

// Len returns the number of jobs in the snapshot.
func (s Snapshot) Len() int {
	return len(s.Running) + len(s.Queued)
}

type jobEntry struct {
	job        *queue.Job
	rev        int64
	dirty      bool
	dispatch   uint64
	slot       int
	stageStart time.Time
}

type pendingWrite struct {
	job *queue.Job
	rev int64
}
