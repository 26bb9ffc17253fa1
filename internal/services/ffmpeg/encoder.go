package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"iencode/internal/config"
	"iencode/internal/logging"
	"iencode/internal/pipeline"
	"iencode/internal/queue"
	"iencode/internal/services"
)

const (
	stageName        = "encode"
	stderrTailBytes  = 4096
	stderrTailLines  = 8
	defaultKillGrace = 10 * time.Second
)

var commandContext = exec.CommandContext

// Options configures the ffmpeg invocation.
type Options struct {
	FFmpegBinary  string
	FFprobeBinary string
	Preset        string
	CRF           int
	AudioBitrate  string
	Branding      string
	// KillGrace bounds how long a cancelled encoder may run after SIGTERM
	// before it is killed.
	KillGrace time.Duration
}

// OptionsFromConfig maps the [encoder] section.
func OptionsFromConfig(cfg config.Encoder) Options {
	return Options{
		FFmpegBinary:  cfg.FFmpegBinary,
		FFprobeBinary: cfg.FFprobeBinary,
		Preset:        cfg.Preset,
		CRF:           cfg.CRF,
		AudioBitrate:  cfg.AudioBitrate,
		Branding:      cfg.Branding,
	}
}

// Encoder transcodes inputs to HEVC with ffmpeg.
type Encoder struct {
	opts   Options
	logger *slog.Logger
}

// New constructs an Encoder, filling unset options with defaults.
func New(opts Options, logger *slog.Logger) *Encoder {
	if opts.FFmpegBinary == "" {
		opts.FFmpegBinary = "ffmpeg"
	}
	if opts.FFprobeBinary == "" {
		opts.FFprobeBinary = "ffprobe"
	}
	if opts.Preset == "" {
		opts.Preset = "medium"
	}
	if opts.CRF <= 0 {
		opts.CRF = 28
	}
	if opts.AudioBitrate == "" {
		opts.AudioBitrate = "128k"
	}
	if opts.KillGrace <= 0 {
		opts.KillGrace = defaultKillGrace
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Encoder{opts: opts, logger: logger.With(logging.String(logging.FieldComponent, "ffmpeg"))}
}

// Transform probes the input and encodes it at the requested height, capped
// at the source height.
func (e *Encoder) Transform(ctx context.Context, req pipeline.TransformRequest, progress pipeline.ProgressFunc) (pipeline.TransformResult, error) {
	if strings.TrimSpace(req.InputPath) == "" {
		return pipeline.TransformResult{}, services.Wrap(services.ErrValidation, stageName, "prepare", "input path required", nil)
	}
	if strings.TrimSpace(req.WorkDir) == "" {
		return pipeline.TransformResult{}, services.Wrap(services.ErrConfiguration, stageName, "prepare", "work directory required", nil)
	}
	logger := e.logger.With(logging.String(logging.FieldJobID, req.JobID))

	probe, err := e.Probe(ctx, req.InputPath)
	if err != nil {
		return pipeline.TransformResult{}, err
	}
	quality := TargetHeight(req.Quality, probe.Height)
	output := filepath.Join(req.WorkDir, pipeline.EncodedName(req.InputPath, quality, e.opts.Branding))
	if output == req.InputPath {
		output = filepath.Join(req.WorkDir, "encoded-"+filepath.Base(output))
	}
	logger.Info("encode starting",
		logging.Int("source_height", probe.Height),
		logging.Int("target_height", quality),
		logging.Duration("duration", probe.Duration),
		logging.String("output", filepath.Base(output)),
	)

	if err := e.run(ctx, logger, e.args(req.InputPath, output, quality), probe.Duration, quality, progress); err != nil {
		_ = os.Remove(output)
		return pipeline.TransformResult{}, err
	}
	info, err := os.Stat(output)
	if err != nil || info.Size() == 0 {
		return pipeline.TransformResult{}, services.Wrap(services.ErrStageFailure, stageName, "verify output", "ffmpeg produced no output", err)
	}
	logger.Info("encode finished", logging.Int64("bytes", info.Size()))
	return pipeline.TransformResult{Path: output, Bytes: info.Size()}, nil
}

// TargetHeight returns the requested height capped at the source height.
// An unset request keeps the source height.
func TargetHeight(requested, source int) int {
	switch {
	case requested <= 0:
		return source
	case source > 0 && requested > source:
		return source
	default:
		return requested
	}
}

func (e *Encoder) args(input, output string, height int) []string {
	args := []string{"-hide_banner", "-nostdin", "-y", "-i", input,
		"-c:v", "libx265", "-preset", e.opts.Preset, "-crf", strconv.Itoa(e.opts.CRF),
	}
	if height > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=-2:%d", height))
	}
	args = append(args, "-c:a", "aac", "-b:a", e.opts.AudioBitrate)
	if branding := strings.TrimSpace(e.opts.Branding); branding != "" {
		args = append(args, "-metadata", "encoder="+branding)
	}
	return append(args, "-progress", "pipe:1", "-nostats", output)
}

func (e *Encoder) run(ctx context.Context, logger *slog.Logger, args []string, duration time.Duration, height int, progress pipeline.ProgressFunc) error {
	cmd := commandContext(ctx, e.opts.FFmpegBinary, args...) //nolint:gosec
	configureProcessGroup(cmd)
	cmd.WaitDelay = e.opts.KillGrace
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return services.Wrap(services.ErrStageFailure, stageName, "ffmpeg", "stdout pipe", err)
	}
	stderr := &tailBuffer{limit: stderrTailBytes}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return services.Wrap(services.ErrConfiguration, stageName, "ffmpeg", e.opts.FFmpegBinary+" not found", err)
		}
		return services.Wrap(services.ErrExternalTool, stageName, "ffmpeg", "start failed", err)
	}
	defer killProcessGroup(cmd)

	label := fmt.Sprintf("encoding %dp", height)
	parseProgress(stdout, duration, func(p queue.Progress) {
		p.Message = label
		if progress != nil {
			progress(p)
		}
	})
	// Drain anything left so Wait does not block on a full pipe.
	_, _ = io.Copy(io.Discard, stdout)

	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		logger.Info("encode interrupted", logging.String("reason", ctx.Err().Error()))
		return ctx.Err()
	}
	if waitErr != nil {
		tail := stderr.Tail(stderrTailLines)
		logger.Warn("ffmpeg exited with error",
			logging.Error(waitErr),
			logging.String("stderr_tail", tail),
			logging.String(logging.FieldEventType, "encoder_failed"),
			logging.String(logging.FieldErrorHint, "inspect the encoder stderr tail in the job error"),
		)
		return services.Wrap(services.ErrExternalTool, stageName, "ffmpeg", tail, waitErr)
	}
	return nil
}

// parseProgress reads ffmpeg's -progress key=value stream and emits a sample
// per out_time report. ETA is derived from the reported speed.
func parseProgress(r io.Reader, duration time.Duration, emit func(queue.Progress)) {
	scanner := bufio.NewScanner(r)
	var speed float64
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "speed":
			speed, _ = strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(value), "x"), 64)
		case "out_time_ms", "out_time_us":
			// Both keys carry microseconds.
			us, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
			if err != nil || us < 0 || duration <= 0 {
				continue
			}
			done := time.Duration(us) * time.Microsecond
			p := queue.Progress{Fraction: min(float64(done)/float64(duration), 1)}
			if speed > 0 && done < duration {
				p.ETA = time.Duration(float64(duration-done) / speed)
			}
			emit(p)
		case "progress":
			if value == "end" {
				emit(queue.Progress{Fraction: 1})
			}
		}
	}
}

// HealthCheck reports whether both binaries resolve.
func (e *Encoder) HealthCheck(context.Context) pipeline.Health {
	for _, bin := range []string{e.opts.FFmpegBinary, e.opts.FFprobeBinary} {
		if _, err := exec.LookPath(bin); err != nil {
			return pipeline.Unhealthy(stageName, bin+" not found in PATH")
		}
	}
	return pipeline.Health{Name: stageName, Ready: true, Detail: "ffmpeg libx265 " + e.opts.Preset}
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

// Tail returns up to n trailing non-empty lines joined by " | ".
func (b *tailBuffer) Tail(n int) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	lines := strings.Split(strings.TrimSpace(string(b.buf)), "\n")
	out := make([]string, 0, n)
	for i := len(lines) - 1; i >= 0 && len(out) < n; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			out = append(out, line)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if len(out) == 0 {
		return "no stderr output"
	}
	return strings.Join(out, " | ")
}

var _ pipeline.Transformer = (*Encoder)(nil)
