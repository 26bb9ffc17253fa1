package services

import "context"

type scopeKey struct{}

// Scope identifies the job, stage and request a unit of work belongs to.
// It travels on the context so logs and errors deep in a stage can be
// attributed without threading ids through every signature.
type Scope struct {
	JobID     string
	Owner     string
	Lane      string
	Stage     string
	Slot      int
	RequestID string
}

// merge overlays the set fields of next onto s.
func (s Scope) merge(next Scope) Scope {
	if next.JobID != "" {
		s.JobID = next.JobID
	}
	if next.Owner != "" {
		s.Owner = next.Owner
	}
	if next.Lane != "" {
		s.Lane = next.Lane
	}
	if next.Stage != "" {
		s.Stage = next.Stage
	}
	if next.Slot > 0 {
		s.Slot = next.Slot
	}
	if next.RequestID != "" {
		s.RequestID = next.RequestID
	}
	return s
}

// IsZero reports whether no field is set.
func (s Scope) IsZero() bool { return s == Scope{} }

// WithScope returns ctx carrying the existing scope overlaid with the set
// fields of next. Blank fields never clear an inherited value.
func WithScope(ctx context.Context, next Scope) context.Context {
	if next.IsZero() {
		return ctx
	}
	return context.WithValue(ctx, scopeKey{}, ScopeFrom(ctx).merge(next))
}

// ScopeFrom returns the scope attached to ctx, or the zero Scope.
func ScopeFrom(ctx context.Context) Scope {
	if ctx == nil {
		return Scope{}
	}
	s, _ := ctx.Value(scopeKey{}).(Scope)
	return s
}

// WithStage narrows ctx to a single pipeline stage.
func WithStage(ctx context.Context, stage string) context.Context {
	return WithScope(ctx, Scope{Stage: stage})
}

// WithRequestID tags ctx with an API correlation id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return WithScope(ctx, Scope{RequestID: id})
}
