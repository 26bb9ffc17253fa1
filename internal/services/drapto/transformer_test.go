package drapto

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	draptolib "github.com/five82/drapto"

	"iencode/internal/pipeline"
	"iencode/internal/queue"
	"iencode/internal/services"
)

func newTestRequest(t *testing.T) pipeline.TransformRequest {
	t.Helper()
	dir := t.TempDir()
	input := filepath.Join(dir, "Film.mkv")
	if err := os.WriteFile(input, []byte("source"), 0o644); err != nil {
		t.Fatal(err)
	}
	return pipeline.TransformRequest{JobID: "job-d", InputPath: input, WorkDir: dir, Quality: 720}
}

func TestTransformMapsReporterProgress(t *testing.T) {
	tr := New("iEncode", nil)
	tr.encode = func(_ context.Context, input, outDir string, rep draptolib.Reporter) error {
		eta := 90 * time.Second
		rep.StageProgress(draptolib.StageProgress{Percent: 10, Stage: "analysis", Message: "crop detection", ETA: &eta})
		rep.EncodingProgress(draptolib.ProgressSnapshot{Percent: 50, ETA: time.Minute, FPS: 24, Speed: 1.5})
		out := filepath.Join(outDir, "Film.mkv")
		if err := os.WriteFile(out, []byte("av1"), 0o644); err != nil {
			return err
		}
		rep.EncodingComplete(draptolib.EncodingOutcome{OutputPath: out, EncodedSize: 3})
		return nil
	}

	req := newTestRequest(t)
	var updates []queue.Progress
	res, err := tr.Transform(context.Background(), req, func(p queue.Progress) {
		updates = append(updates, p)
	})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if filepath.Base(res.Path) != "Film [iEncode].mkv" || res.Bytes != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, err := os.Stat(filepath.Join(req.WorkDir, outSubdir)); !os.IsNotExist(err) {
		t.Fatalf("scratch directory should be removed, stat err %v", err)
	}
	if len(updates) != 3 {
		t.Fatalf("expected 3 updates, got %+v", updates)
	}
	if updates[0].Fraction != 0.1 || updates[0].ETA != 90*time.Second || updates[0].Message != "analysis: crop detection" {
		t.Fatalf("unexpected stage progress %+v", updates[0])
	}
	if updates[1].Fraction != 0.5 || updates[1].ETA != time.Minute {
		t.Fatalf("unexpected encoding progress %+v", updates[1])
	}
	if updates[2].Fraction != 1 {
		t.Fatalf("expected completion sample, got %+v", updates[2])
	}
}

func TestTransformFailureUsesReportedError(t *testing.T) {
	tr := New("", nil)
	tr.encode = func(_ context.Context, _, _ string, rep draptolib.Reporter) error {
		rep.Error(draptolib.ReporterError{Title: "encode", Message: "svt-av1 crashed"})
		return errors.New("exit status 1")
	}
	_, err := tr.Transform(context.Background(), newTestRequest(t), nil)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	if services.IsRetryable(err) {
		t.Fatal("encoder failures must not be retried")
	}
	if got := err.Error(); !strings.Contains(got, "svt-av1 crashed") {
		t.Fatalf("expected reporter message in %q", got)
	}
}

func TestTransformCancelled(t *testing.T) {
	tr := New("", nil)
	tr.encode = func(ctx context.Context, _, _ string, _ draptolib.Reporter) error {
		<-ctx.Done()
		return ctx.Err()
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := tr.Transform(ctx, newTestRequest(t), nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestClampPercent(t *testing.T) {
	tests := []struct{ in, want float64 }{{-5, 0}, {0, 0}, {42, 0.42}, {100, 1}, {140, 1}}
	for _, tt := range tests {
		if got := clampPercent(tt.in); got != tt.want {
			t.Fatalf("clampPercent(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
