package api

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"iencode/internal/pipeline"
	"iencode/internal/progress"
	"iencode/internal/queue"
	"iencode/internal/workflow"
)

func TestFromJob(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	started := created.Add(time.Minute)
	job := &queue.Job{
		ID:         "job-1",
		Owner:      "alice",
		PayloadRef: "file:///media/a.mkv",
		Quality:    1080,
		Lane:       queue.LaneAccelerator,
		Status:     queue.StatusRunning,
		Stage:      queue.StageEncoding,
		Progress:   queue.Progress{Fraction: 0.42, BytesDone: 42, BytesTotal: 100, ETA: 90 * time.Second, Message: "speed 1.2x"},
		Seq:        7,
		CreatedAt:  created,
		UpdatedAt:  started,
		StartedAt:  &started,
		Retries:    []queue.RetryRecord{{Stage: queue.StageDownloading, Attempt: 1, Error: "503", At: created}},
	}

	dto := FromJob(job)
	if dto.ID != "job-1" || dto.Lane != "accelerator" || dto.Status != "running" {
		t.Fatalf("unexpected identity fields: %+v", dto)
	}
	if dto.Progress.Stage != "encoding" || dto.Progress.Label != "Encoding" {
		t.Fatalf("unexpected stage fields: %+v", dto.Progress)
	}
	if dto.Progress.Percent < 41.9 || dto.Progress.Percent > 42.1 {
		t.Fatalf("unexpected percent %f", dto.Progress.Percent)
	}
	if dto.Progress.Bar != "████░░░░░░" {
		t.Fatalf("unexpected bar %q", dto.Progress.Bar)
	}
	if dto.Progress.ETASeconds != 90 {
		t.Fatalf("unexpected eta %d", dto.Progress.ETASeconds)
	}
	if dto.CreatedAt != "2026-03-01T12:00:00.000Z" {
		t.Fatalf("unexpected createdAt %q", dto.CreatedAt)
	}
	if dto.StartedAt == "" || dto.FinishedAt != "" {
		t.Fatalf("unexpected lifecycle timestamps: %q / %q", dto.StartedAt, dto.FinishedAt)
	}
	if len(dto.Retries) != 1 || dto.Retries[0].Stage != "downloading" {
		t.Fatalf("unexpected retries %+v", dto.Retries)
	}
}

func TestFromJobSucceededShowsFullBar(t *testing.T) {
	dto := FromJob(&queue.Job{ID: "x", Status: queue.StatusSucceeded, ResultRef: "file:///library/x.mkv"})
	if dto.Progress.Percent != 100 || dto.Progress.Bar != progress.Bar(1) {
		t.Fatalf("expected full progress for succeeded job, got %+v", dto.Progress)
	}
	if dto.ResultRef != "file:///library/x.mkv" {
		t.Fatalf("unexpected result ref %q", dto.ResultRef)
	}
}

func TestFromSnapshotKeepsPositions(t *testing.T) {
	snap := workflow.Snapshot{
		Running: []workflow.SnapshotEntry{{Job: &queue.Job{ID: "a", Status: queue.StatusRunning}}},
		Queued: []workflow.SnapshotEntry{
			{Job: &queue.Job{ID: "d", Lane: queue.LaneAccelerator, Status: queue.StatusQueued}, Position: 1},
			{Job: &queue.Job{ID: "b", Lane: queue.LaneNormal, Status: queue.StatusQueued}, Position: 2},
		},
	}
	resp := FromSnapshot(snap)
	if len(resp.Running) != 1 || resp.Running[0].Position != 0 {
		t.Fatalf("unexpected running %+v", resp.Running)
	}
	if len(resp.Queued) != 2 || resp.Queued[0].ID != "d" || resp.Queued[1].Position != 2 {
		t.Fatalf("unexpected queued %+v", resp.Queued)
	}
	if all := AllJobs(resp); len(all) != 3 || all[0].ID != "a" {
		t.Fatalf("unexpected flattened order %+v", all)
	}
}

func TestFromStatusSummary(t *testing.T) {
	summary := workflow.StatusSummary{
		Running:    true,
		PoolSize:   4,
		PoolBusy:   3,
		LaneDepths: map[queue.Lane]int{queue.LaneAccelerator: 1, queue.LaneNormal: 6},
		Health:     []pipeline.Health{pipeline.Healthy("download"), pipeline.Unhealthy("encode", "ffmpeg missing")},
	}
	wf := FromStatusSummary(summary)
	if !wf.Running || wf.PoolSize != 4 || wf.PoolBusy != 3 {
		t.Fatalf("unexpected pool fields: %+v", wf)
	}
	if wf.LaneDepths["normal"] != 6 || wf.LaneDepths["accelerator"] != 1 {
		t.Fatalf("unexpected lane depths %+v", wf.LaneDepths)
	}
	if len(wf.StageHealth) != 2 || wf.StageHealth[1].Ready || wf.StageHealth[1].Detail != "ffmpeg missing" {
		t.Fatalf("unexpected health %+v", wf.StageHealth)
	}
}

func TestFromUpdate(t *testing.T) {
	update := progress.Update{
		Event: progress.Event{Kind: progress.KindProgress, JobID: "a", At: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		View: progress.View{
			JobID:  "a",
			Owner:  "alice",
			Status: queue.StatusRunning,
			Stage:  queue.StageDownloading,
			Stages: []progress.StageView{{Stage: queue.StageDownloading, Label: "Downloading", State: progress.StateActive, Fraction: 0.5}},
			Text:   "Job a: running",
		},
	}
	out := FromUpdate(update)
	if out.Kind != "progress" || out.Owner != "alice" || out.Stage != "downloading" {
		t.Fatalf("unexpected update %+v", out)
	}
	if len(out.Stages) != 1 || out.Stages[0].Percent != 50 {
		t.Fatalf("unexpected stages %+v", out.Stages)
	}
}

func TestToEnqueueRequest(t *testing.T) {
	req, err := ToEnqueueRequest(EnqueueRequest{Owner: " alice ", PayloadRef: " s3://bucket/a.mkv ", Lane: "high_priority", Quality: 480})
	if err != nil {
		t.Fatalf("ToEnqueueRequest: %v", err)
	}
	if req.Owner != "alice" || req.PayloadRef != "s3://bucket/a.mkv" || req.Lane != queue.LaneAccelerator || req.Quality != 480 {
		t.Fatalf("unexpected request %+v", req)
	}
	if _, err := ToEnqueueRequest(EnqueueRequest{Owner: "alice", PayloadRef: "file:///a", Lane: "express"}); !errors.Is(err, queue.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestErrorStatusRoundTrip(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{queue.ErrInvalidPayload, http.StatusBadRequest, CodeInvalid},
		{queue.ErrNotFound, http.StatusNotFound, CodeNotFound},
		{queue.ErrNotOwner, http.StatusForbidden, CodeNotOwner},
		{queue.ErrNotQueued, http.StatusConflict, CodeNotQueued},
		{queue.ErrQueueFull, http.StatusTooManyRequests, CodeQueueFull},
		{workflow.ErrNotRunning, http.StatusServiceUnavailable, CodeUnavailable},
		{errors.New("boom"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tt := range tests {
		status, code := ErrorStatus(tt.err)
		if status != tt.status || code != tt.code {
			t.Fatalf("%v: got %d/%s want %d/%s", tt.err, status, code, tt.status, tt.code)
		}
		if tt.code == CodeInternal {
			continue
		}
		if rebuilt := ErrorFromCode(code, "remote: "+tt.err.Error()); !errors.Is(rebuilt, tt.err) {
			t.Fatalf("ErrorFromCode(%s) lost sentinel", code)
		}
	}
}
