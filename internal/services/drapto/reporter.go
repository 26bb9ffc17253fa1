package drapto

import (
	"fmt"
	"log/slog"
	"sync"

	draptolib "github.com/five82/drapto"

	"iencode/internal/logging"
	"iencode/internal/pipeline"
	"iencode/internal/queue"
)

// progressReporter adapts Drapto's Reporter callbacks to the pipeline
// progress callback and remembers what the encode reported about itself.
type progressReporter struct {
	progress pipeline.ProgressFunc
	logger   *slog.Logger

	mu         sync.Mutex
	outputPath string
	encoded    int64
	lastError  string
}

func newProgressReporter(progress pipeline.ProgressFunc, logger *slog.Logger) *progressReporter {
	return &progressReporter{progress: progress, logger: logger}
}

func (r *progressReporter) emit(p queue.Progress) {
	if r.progress != nil {
		r.progress(p)
	}
}

func (r *progressReporter) result() (string, int64, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outputPath, r.encoded, r.lastError
}

func (r *progressReporter) Hardware(draptolib.HardwareSummary) {}

func (r *progressReporter) Initialization(s draptolib.InitializationSummary) {
	r.logger.Info("drapto initialized",
		logging.String("resolution", s.Resolution),
		logging.String("dynamic_range", s.DynamicRange),
	)
}

func (r *progressReporter) StageProgress(s draptolib.StageProgress) {
	p := queue.Progress{Fraction: clampPercent(float64(s.Percent)), Message: s.Stage}
	if s.Message != "" {
		p.Message = s.Stage + ": " + s.Message
	}
	if s.ETA != nil {
		p.ETA = *s.ETA
	}
	r.emit(p)
}

func (r *progressReporter) CropResult(draptolib.CropSummary) {}

func (r *progressReporter) EncodingConfig(draptolib.EncodingConfigSummary) {}

func (r *progressReporter) EncodingStarted(totalFrames uint64) {
	r.emit(queue.Progress{Message: fmt.Sprintf("encoding %d frames", totalFrames)})
}

func (r *progressReporter) EncodingProgress(s draptolib.ProgressSnapshot) {
	r.emit(queue.Progress{
		Fraction: clampPercent(float64(s.Percent)),
		ETA:      s.ETA,
		Message:  fmt.Sprintf("encoding %.1f fps, %.2fx", float64(s.FPS), float64(s.Speed)),
	})
}

func (r *progressReporter) ValidationComplete(s draptolib.ValidationSummary) {
	if !s.Passed {
		r.logger.Warn("drapto output validation failed",
			logging.String(logging.FieldEventType, "encode_validation_failed"),
		)
	}
}

func (r *progressReporter) EncodingComplete(s draptolib.EncodingOutcome) {
	r.mu.Lock()
	r.outputPath = s.OutputPath
	r.encoded = int64(s.EncodedSize)
	r.mu.Unlock()
	r.emit(queue.Progress{Fraction: 1, Message: "encoded"})
}

func (r *progressReporter) Warning(message string) {
	r.logger.Warn("drapto warning", logging.String("message", message))
}

func (r *progressReporter) Error(e draptolib.ReporterError) {
	r.mu.Lock()
	r.lastError = e.Title + ": " + e.Message
	r.mu.Unlock()
	r.logger.Error("drapto error",
		logging.String("title", e.Title),
		logging.String("message", e.Message),
	)
}

func (r *progressReporter) OperationComplete(string) {}

func (r *progressReporter) BatchStarted(draptolib.BatchStartInfo) {}

func (r *progressReporter) FileProgress(draptolib.FileProgressContext) {}

func (r *progressReporter) BatchComplete(draptolib.BatchSummary) {}

func clampPercent(percent float64) float64 {
	switch {
	case percent <= 0:
		return 0
	case percent >= 100:
		return 1
	default:
		return percent / 100
	}
}

var _ draptolib.Reporter = (*progressReporter)(nil)
