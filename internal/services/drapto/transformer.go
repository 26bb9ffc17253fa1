package drapto

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	draptolib "github.com/five82/drapto"

	"iencode/internal/logging"
	"iencode/internal/pipeline"
	"iencode/internal/services"
)

const (
	stageName = "encode"
	outSubdir = "drapto"
)

type encodeFunc func(ctx context.Context, inputPath, outputDir string, rep draptolib.Reporter) error

func libraryEncode(ctx context.Context, inputPath, outputDir string, rep draptolib.Reporter) error {
	encoder, err := draptolib.New(draptolib.WithResponsive())
	if err != nil {
		return err
	}
	_, err = encoder.EncodeWithReporter(ctx, inputPath, outputDir, rep)
	return err
}

// Transformer encodes through the Drapto library. Drapto picks its own
// resolution and quality settings, so the requested height only appears in
// logs.
type Transformer struct {
	encode   encodeFunc
	branding string
	logger   *slog.Logger
}

// New constructs a Transformer that names outputs with branding.
func New(branding string, logger *slog.Logger) *Transformer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Transformer{
		encode:   libraryEncode,
		branding: branding,
		logger:   logger.With(logging.String(logging.FieldComponent, "drapto")),
	}
}

// Transform runs Drapto into a scratch directory and moves the result next
// to the input under its published name.
func (t *Transformer) Transform(ctx context.Context, req pipeline.TransformRequest, progress pipeline.ProgressFunc) (pipeline.TransformResult, error) {
	if strings.TrimSpace(req.InputPath) == "" {
		return pipeline.TransformResult{}, services.Wrap(services.ErrValidation, stageName, "prepare", "input path required", nil)
	}
	if strings.TrimSpace(req.WorkDir) == "" {
		return pipeline.TransformResult{}, services.Wrap(services.ErrConfiguration, stageName, "prepare", "work directory required", nil)
	}
	if _, err := os.Stat(req.InputPath); err != nil {
		return pipeline.TransformResult{}, services.Wrap(services.ErrValidation, stageName, "stat input", req.InputPath, err)
	}
	outDir := filepath.Join(req.WorkDir, outSubdir)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return pipeline.TransformResult{}, services.Wrap(services.ErrStageFailure, stageName, "prepare", "create output directory", err)
	}
	logger := t.logger.With(logging.String(logging.FieldJobID, req.JobID))
	logger.Info("drapto encode starting", logging.Int("requested_height", req.Quality))

	rep := newProgressReporter(progress, logger)
	if err := t.encode(ctx, req.InputPath, outDir, rep); err != nil {
		if ctx.Err() != nil {
			return pipeline.TransformResult{}, ctx.Err()
		}
		msg := "drapto encode failed"
		if _, _, last := rep.result(); last != "" {
			msg = last
		}
		return pipeline.TransformResult{}, services.Wrap(services.ErrExternalTool, stageName, "drapto", msg, err)
	}

	produced, _, _ := rep.result()
	if produced == "" {
		base := filepath.Base(req.InputPath)
		produced = filepath.Join(outDir, strings.TrimSuffix(base, filepath.Ext(base))+".mkv")
	}
	final := filepath.Join(req.WorkDir, pipeline.EncodedName(req.InputPath, 0, t.branding))
	if final == req.InputPath {
		final = filepath.Join(req.WorkDir, "encoded-"+filepath.Base(final))
	}
	if err := os.Rename(produced, final); err != nil {
		return pipeline.TransformResult{}, services.Wrap(services.ErrStageFailure, stageName, "move output", produced, err)
	}
	info, err := os.Stat(final)
	if err != nil || info.Size() == 0 {
		return pipeline.TransformResult{}, services.Wrap(services.ErrStageFailure, stageName, "verify output", "drapto produced no output", err)
	}
	_ = os.RemoveAll(outDir)
	logger.Info("drapto encode finished", logging.Int64("bytes", info.Size()))
	return pipeline.TransformResult{Path: final, Bytes: info.Size()}, nil
}

// HealthCheck reports whether the ffmpeg tools Drapto drives are installed.
func (t *Transformer) HealthCheck(context.Context) pipeline.Health {
	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(bin); err != nil {
			return pipeline.Unhealthy(stageName, bin+" not found in PATH")
		}
	}
	return pipeline.Health{Name: stageName, Ready: true, Detail: "drapto library"}
}

var _ pipeline.Transformer = (*Transformer)(nil)
