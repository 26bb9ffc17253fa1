package queue

import (
	"fmt"
	"strings"
	"time"
)

// Lane is the priority class a job is queued under.
type Lane string

const (
	LaneAccelerator Lane = "accelerator"
	LaneNormal      Lane = "normal"
)

// Lanes returns the lanes in dispatch precedence order.
func Lanes() []Lane {
	return []Lane{LaneAccelerator, LaneNormal}
}

// ParseLane converts user input into a Lane. The legacy queue names
// "high_priority" and "default" are accepted as aliases.
func ParseLane(value string) (Lane, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "accelerator", "high_priority", "high", "priority":
		return LaneAccelerator, true
	case "normal", "default", "":
		return LaneNormal, true
	default:
		return "", false
	}
}

// Status represents the lifecycle of a job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusRunning    Status = "running"
	StatusCancelling Status = "cancelling"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

var allStatuses = []Status{
	StatusQueued,
	StatusRunning,
	StatusCancelling,
	StatusSucceeded,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

type statusTransition struct {
	from Status
	to   Status
}

// Runtime transitions. Recovery after a restart re-queues interrupted jobs
// through Job.Requeue, which is deliberately outside this table.
var allowedTransitions = map[statusTransition]struct{}{
	{StatusQueued, StatusRunning}:       {},
	{StatusQueued, StatusCancelled}:     {},
	{StatusRunning, StatusCancelling}:   {},
	{StatusRunning, StatusSucceeded}:    {},
	{StatusRunning, StatusFailed}:       {},
	{StatusRunning, StatusCancelled}:    {},
	{StatusCancelling, StatusCancelled}: {},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsActive reports whether a job in this status occupies a worker slot.
func (s Status) IsActive() bool {
	return s == StatusRunning || s == StatusCancelling
}

// CanTransition reports whether from -> to is a legal runtime transition.
func CanTransition(from, to Status) bool {
	_, ok := allowedTransitions[statusTransition{from: from, to: to}]
	return ok
}

// Stage is the pipeline step a running job is in.
type Stage string

const (
	StageNone        Stage = ""
	StageDownloading Stage = "downloading"
	StageEncoding    Stage = "encoding"
	StageUploading   Stage = "uploading"
)

// PipelineStages returns the stages in execution order.
func PipelineStages() []Stage {
	return []Stage{StageDownloading, StageEncoding, StageUploading}
}

// ParseStage converts a string into a known Stage. The empty string maps to StageNone.
func ParseStage(value string) (Stage, bool) {
	switch Stage(strings.ToLower(strings.TrimSpace(value))) {
	case StageNone, "none":
		return StageNone, true
	case StageDownloading:
		return StageDownloading, true
	case StageEncoding:
		return StageEncoding, true
	case StageUploading:
		return StageUploading, true
	default:
		return "", false
	}
}

// Index returns the 1-based position of the stage in the pipeline, 0 for none.
func (s Stage) Index() int {
	for i, stage := range PipelineStages() {
		if stage == s {
			return i + 1
		}
	}
	return 0
}

// Progress captures how far the current stage has advanced.
type Progress struct {
	Fraction   float64
	BytesDone  int64
	BytesTotal int64
	ETA        time.Duration
	Message    string
}

// RetryRecord documents one retried stage attempt.
type RetryRecord struct {
	Stage   Stage     `json:"stage"`
	Attempt int       `json:"attempt"`
	Error   string    `json:"error"`
	At      time.Time `json:"at"`
}

// Job is one encode request and its lifecycle state.
type Job struct {
	ID              string
	Owner           string
	PayloadRef      string
	Quality         int
	Lane            Lane
	Status          Status
	Stage           Stage
	Progress        Progress
	Seq             int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       *time.Time
	FinishedAt      *time.Time
	CancelRequested bool
	ResultRef       string
	ErrorInfo       string
	Retries         []RetryRecord
}

// Clone returns a deep copy safe to hand to other goroutines.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	if j.StartedAt != nil {
		started := *j.StartedAt
		cp.StartedAt = &started
	}
	if j.FinishedAt != nil {
		finished := *j.FinishedAt
		cp.FinishedAt = &finished
	}
	if len(j.Retries) > 0 {
		cp.Retries = append([]RetryRecord(nil), j.Retries...)
	}
	return &cp
}

// Transition moves the job to the given status, enforcing the lifecycle table.
// Entering a terminal status clears the stage and stamps FinishedAt.
func (j *Job) Transition(to Status, now time.Time) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("job %s: illegal transition %s -> %s", j.ID, j.Status, to)
	}
	j.Status = to
	j.UpdatedAt = now
	switch {
	case to == StatusRunning:
		started := now
		j.StartedAt = &started
	case to.IsTerminal():
		finished := now
		j.FinishedAt = &finished
		j.Stage = StageNone
	}
	return nil
}

// EnterStage switches the active stage and resets progress.
func (j *Job) EnterStage(stage Stage, now time.Time) {
	if j.Stage == stage {
		return
	}
	j.Stage = stage
	j.Progress = Progress{}
	j.UpdatedAt = now
}

// AdvanceProgress applies a progress sample. The fraction never decreases
// within a stage; a lower sample keeps the previous fraction but still
// refreshes byte counters and the message. It returns the applied progress.
func (j *Job) AdvanceProgress(p Progress, now time.Time) Progress {
	if p.Fraction < 0 {
		p.Fraction = 0
	}
	if p.Fraction > 1 {
		p.Fraction = 1
	}
	if p.Fraction < j.Progress.Fraction {
		p.Fraction = j.Progress.Fraction
	}
	if p.BytesDone < j.Progress.BytesDone {
		p.BytesDone = j.Progress.BytesDone
	}
	j.Progress = p
	j.UpdatedAt = now
	return p
}

// Requeue returns an interrupted job to the queued state after a restart.
// Progress, stage and start time are reset; retries are kept for history.
func (j *Job) Requeue(now time.Time) {
	j.Status = StatusQueued
	j.Stage = StageNone
	j.Progress = Progress{}
	j.StartedAt = nil
	j.UpdatedAt = now
}
