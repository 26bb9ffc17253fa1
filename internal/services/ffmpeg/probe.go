package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"iencode/internal/services"
)

// ProbeResult is the subset of ffprobe output the encoder needs.
type ProbeResult struct {
	Duration time.Duration
	Width    int
	Height   int
	Codec    string
}

type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		Duration  string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe reads the first video stream of path. Unreadable input, a missing
// video stream or a zero duration are validation failures.
func (e *Encoder) Probe(ctx context.Context, path string) (ProbeResult, error) {
	args := []string{"-v", "quiet", "-print_format", "json", "-show_format", "-show_streams", path}
	cmd := commandContext(ctx, e.opts.FFprobeBinary, args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return ProbeResult{}, ctx.Err()
		}
		if errors.Is(err, exec.ErrNotFound) {
			return ProbeResult{}, services.Wrap(services.ErrConfiguration, stageName, "ffprobe", e.opts.FFprobeBinary+" not found", err)
		}
		return ProbeResult{}, services.Wrap(services.ErrValidation, stageName, "ffprobe", "input could not be probed "+strings.TrimSpace(stderr.String()), err)
	}
	return parseProbe(out)
}

func parseProbe(data []byte) (ProbeResult, error) {
	var parsed probeOutput
	if err := json.Unmarshal(data, &parsed); err != nil {
		return ProbeResult{}, services.Wrap(services.ErrValidation, stageName, "ffprobe", "unparseable probe output", err)
	}
	for _, stream := range parsed.Streams {
		if stream.CodecType != "video" {
			continue
		}
		res := ProbeResult{Width: stream.Width, Height: stream.Height, Codec: stream.CodecName}
		res.Duration = parseSeconds(stream.Duration)
		if res.Duration <= 0 {
			res.Duration = parseSeconds(parsed.Format.Duration)
		}
		if res.Duration <= 0 {
			return ProbeResult{}, services.Wrap(services.ErrValidation, stageName, "ffprobe", "video duration is 0", nil)
		}
		return res, nil
	}
	return ProbeResult{}, services.Wrap(services.ErrValidation, stageName, "ffprobe", "no video stream found", nil)
}

func parseSeconds(v string) time.Duration {
	secs, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}
