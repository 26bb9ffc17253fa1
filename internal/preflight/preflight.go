package preflight

import (
	"context"
	"strings"

	"iencode/internal/config"
)

// Result reports the outcome of a single preflight check. Optional checks
// that fail are reported as warnings rather than errors.
type Result struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Optional bool   `json:"optional,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// RunAll executes every check that applies to cfg.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := CheckBinaries(Requirements(cfg))
	results = append(results,
		CheckDirectoryAccess("Staging directory", cfg.Paths.StagingDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	)
	if cfg.Publish.Target == config.PublishLocal && strings.TrimSpace(cfg.Paths.LibraryDir) != "" {
		results = append(results, CheckDirectoryAccess("Library directory", cfg.Paths.LibraryDir))
	}
	results = append(results, CheckFreeSpace(ctx, "Staging free space", cfg.Paths.StagingDir, MinStagingFree))
	return results
}

// Requirements lists the external binaries the configured encoder backend
// shells out to. Both backends drive ffmpeg; only the ffmpeg backend probes
// durations itself, so ffprobe is optional for drapto.
func Requirements(cfg *config.Config) []Requirement {
	if cfg == nil {
		return nil
	}
	ffprobeOptional := cfg.Encoder.Backend == config.EncoderDrapto
	return []Requirement{
		{
			Name:        "FFmpeg",
			Command:     cfg.Encoder.FFmpegBinary,
			Description: "Required for encoding",
		},
		{
			Name:        "FFprobe",
			Command:     cfg.Encoder.FFprobeBinary,
			Description: "Used for encode progress",
			Optional:    ffprobeOptional,
		},
	}
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
