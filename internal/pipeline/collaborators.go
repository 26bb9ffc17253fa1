package pipeline

import (
	"context"

	"iencode/internal/queue"
)

// ProgressFunc receives stage-local progress samples from a collaborator.
// Implementations must not block.
type ProgressFunc func(queue.Progress)

// ByteProgress adapts a byte counter callback to ProgressFunc. The total is
// zero when the size is unknown, in which case no fraction is reported.
func ByteProgress(report ProgressFunc, message string) func(done, total int64) {
	if report == nil {
		return nil
	}
	return func(done, total int64) {
		p := queue.Progress{BytesDone: done, BytesTotal: total, Message: message}
		if total > 0 {
			p.Fraction = min(float64(done)/float64(total), 1)
		}
		report(p)
	}
}

// FetchRequest describes the input a job needs.
type FetchRequest struct {
	JobID      string
	PayloadRef string
	WorkDir    string
}

// FetchResult points at the acquired input inside the work directory.
type FetchResult struct {
	Path  string
	Bytes int64
}

// Fetcher acquires the payload referenced by a job.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest, progress ProgressFunc) (FetchResult, error)
}

// TransformRequest describes one encode.
type TransformRequest struct {
	JobID     string
	InputPath string
	WorkDir   string
	Quality   int
}

// TransformResult points at the encoded output inside the work directory.
type TransformResult struct {
	Path  string
	Bytes int64
}

// Transformer encodes an acquired input.
type Transformer interface {
	Transform(ctx context.Context, req TransformRequest, progress ProgressFunc) (TransformResult, error)
}

// PublishRequest describes an encoded artifact ready for publication.
type PublishRequest struct {
	JobID string
	Owner string
	Path  string
}

// Publisher stores the encoded artifact durably and returns its reference.
type Publisher interface {
	Publish(ctx context.Context, req PublishRequest, progress ProgressFunc) (string, error)
}

// Tracker receives the executor's state changes for a job. The workflow
// manager implements it and owns the job record.
type Tracker interface {
	EnterStage(jobID string, stage queue.Stage)
	ReportProgress(jobID string, stage queue.Stage, progress queue.Progress)
	RecordRetry(jobID string, record queue.RetryRecord)
	CancelRequested(jobID string) bool
	BeginCancelling(jobID string)
}
