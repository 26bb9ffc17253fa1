package logging

import "strings"

// ProgressSampler keeps per-job progress logging readable: it lets a line
// through when the stage changes or the fraction crosses into a new bucket.
type ProgressSampler struct {
	bucket     float64
	lastStage  string
	lastBucket int
}

// NewProgressSampler constructs a sampler with the given bucket width as a
// fraction of the stage (default 0.1).
func NewProgressSampler(bucket float64) *ProgressSampler {
	if bucket <= 0 || bucket > 1 {
		bucket = 0.1
	}
	return &ProgressSampler{bucket: bucket, lastBucket: -1}
}

// ShouldLog reports whether a progress sample should be logged. A negative
// fraction means unknown and only stage changes are considered.
func (s *ProgressSampler) ShouldLog(fraction float64, stage string) bool {
	if s == nil {
		return true
	}
	emit := false
	if stage = strings.TrimSpace(stage); stage != "" && stage != s.lastStage {
		s.lastStage = stage
		s.lastBucket = -1
		emit = true
	}
	if fraction >= 0 {
		if fraction > 1 {
			fraction = 1
		}
		bucket := int(fraction / s.bucket)
		if bucket > s.lastBucket {
			s.lastBucket = bucket
			emit = true
		}
	}
	return emit
}

// Reset clears the sampler state.
func (s *ProgressSampler) Reset() {
	if s == nil {
		return
	}
	s.lastStage = ""
	s.lastBucket = -1
}
