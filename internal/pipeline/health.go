package pipeline

import "context"

// Health summarizes the readiness of a pipeline collaborator.
type Health struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs an unhealthy Health record with context detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}

// HealthChecker is implemented by collaborators that can report readiness
// without running a job, such as a missing encoder binary or bucket.
type HealthChecker interface {
	HealthCheck(ctx context.Context) Health
}

// CheckHealth reports on each collaborator under the stage it serves.
// Collaborators without a health check are assumed ready.
func CheckHealth(ctx context.Context, fetcher Fetcher, transformer Transformer, publisher Publisher) []Health {
	collaborators := []struct {
		name string
		impl any
	}{
		{"download", fetcher},
		{"encode", transformer},
		{"upload", publisher},
	}
	out := make([]Health, 0, len(collaborators))
	for _, c := range collaborators {
		if checker, ok := c.impl.(HealthChecker); ok {
			h := checker.HealthCheck(ctx)
			if h.Name == "" {
				h.Name = c.name
			}
			out = append(out, h)
			continue
		}
		if c.impl == nil {
			out = append(out, Unhealthy(c.name, "not configured"))
			continue
		}
		out = append(out, Healthy(c.name))
	}
	return out
}
