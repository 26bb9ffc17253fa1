package progress

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"iencode/internal/clock"
	"iencode/internal/logging"
	"iencode/internal/queue"
)

// Kind classifies a reporter event.
type Kind string

const (
	KindQueued     Kind = "queued"
	KindDispatched Kind = "dispatched"
	KindStage      Kind = "stage"
	KindProgress   Kind = "progress"
	KindCancelAck  Kind = "cancel_ack"
	KindTerminal   Kind = "terminal"
)

// Event is one raw state change published by the workflow manager.
type Event struct {
	Kind      Kind           `json:"kind"`
	JobID     string         `json:"job_id"`
	Owner     string         `json:"owner,omitempty"`
	Lane      queue.Lane     `json:"lane,omitempty"`
	Stage     queue.Stage    `json:"stage,omitempty"`
	Status    queue.Status   `json:"status,omitempty"`
	Progress  queue.Progress `json:"progress"`
	ResultRef string         `json:"result_ref,omitempty"`
	Error     string         `json:"error,omitempty"`
	At        time.Time      `json:"at"`
}

// Update is what subscribers receive: the triggering event plus the job view
// after applying it.
type Update struct {
	Event Event `json:"event"`
	View  View  `json:"view"`
}

// Options configures a Reporter.
type Options struct {
	MinDelta         float64
	MinInterval      time.Duration
	InboxSize        int
	SubscriberBuffer int
	Clock            clock.Clock
	Logger           *slog.Logger
}

type jobState struct {
	jobID        string
	owner        string
	status       queue.Status
	stage        queue.Stage
	progress     queue.Progress
	lastEmit     time.Time
	lastFraction float64
	sampler      *logging.ProgressSampler
}

// Subscription is a bounded stream of updates. A job subscription is closed
// after the job's terminal update; SubscribeAll streams until unsubscribed.
type Subscription struct {
	jobID  string
	ch     chan Update
	closed bool
}

// C returns the update channel.
func (s *Subscription) C() <-chan Update { return s.ch }

// JobID returns the job the subscription follows, empty for all jobs.
func (s *Subscription) JobID() string { return s.jobID }

// Reporter aggregates events into throttled per-job views.
type Reporter struct {
	opts   Options
	clock  clock.Clock
	logger *slog.Logger

	qmu     sync.Mutex
	pending []Event
	wake    chan struct{}

	mu   sync.Mutex
	jobs map[string]*jobState
	subs map[*Subscription]struct{}

	dropped   atomic.Int64
	delivered atomic.Int64
}

// New constructs a reporter. Call Run to start consuming events.
func New(opts Options) *Reporter {
	if opts.InboxSize <= 0 {
		opts.InboxSize = 256
	}
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = 64
	}
	if opts.MinDelta < 0 {
		opts.MinDelta = 0
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	return &Reporter{
		opts:   opts,
		clock:  opts.Clock,
		logger: logging.NewComponentLogger(opts.Logger, "progress"),
		wake:   make(chan struct{}, 1),
		jobs:   make(map[string]*jobState),
		subs:   make(map[*Subscription]struct{}),
	}
}

// Publish queues ev without blocking. When the inbox is full the oldest
// pending progress sample is discarded. Lifecycle events are always queued.
func (r *Reporter) Publish(ev Event) {
	if ev.JobID == "" {
		return
	}
	if ev.At.IsZero() {
		ev.At = r.clock.Now()
	}
	r.qmu.Lock()
	if len(r.pending) >= r.opts.InboxSize {
		if i := oldestProgress(r.pending); i >= 0 {
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			r.dropped.Add(1)
		} else if ev.Kind == KindProgress {
			r.qmu.Unlock()
			r.dropped.Add(1)
			return
		}
	}
	r.pending = append(r.pending, ev)
	r.qmu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func oldestProgress(events []Event) int {
	for i, ev := range events {
		if ev.Kind == KindProgress {
			return i
		}
	}
	return -1
}

// Run consumes the inbox until ctx ends, then applies whatever is still
// buffered so terminal events are not lost on shutdown.
func (r *Reporter) Run(ctx context.Context) {
	for {
		select {
		case <-r.wake:
			r.drain()
		case <-ctx.Done():
			r.drain()
			return
		}
	}
}

func (r *Reporter) drain() {
	r.qmu.Lock()
	batch := r.pending
	r.pending = nil
	r.qmu.Unlock()
	for _, ev := range batch {
		r.apply(ev)
	}
}

// Subscribe streams updates for one job.
func (r *Reporter) Subscribe(jobID string) *Subscription {
	return r.subscribe(jobID)
}

// SubscribeAll streams updates for every job.
func (r *Reporter) SubscribeAll() *Subscription {
	return r.subscribe("")
}

func (r *Reporter) subscribe(jobID string) *Subscription {
	sub := &Subscription{jobID: jobID, ch: make(chan Update, r.opts.SubscriberBuffer)}
	r.mu.Lock()
	r.subs[sub] = struct{}{}
	r.mu.Unlock()
	return sub
}

// Unsubscribe stops delivery and closes the subscription channel. It is safe
// to call more than once.
func (r *Reporter) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked(sub)
}

// View returns the latest view of a job that has not reached a terminal
// update yet.
func (r *Reporter) View(jobID string) (View, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.jobs[jobID]
	if !ok {
		return View{}, false
	}
	return buildView(st), true
}

// Dropped returns how many events or updates were discarded on overflow.
func (r *Reporter) Dropped() int64 { return r.dropped.Load() }

// Delivered returns how many updates passed the throttle.
func (r *Reporter) Delivered() int64 { return r.delivered.Load() }

// Tracked returns the number of jobs with live view state.
func (r *Reporter) Tracked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

func (r *Reporter) apply(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.jobs[ev.JobID]
	if !ok {
		if ev.Kind == KindProgress {
			// Late sample for a job already finalized.
			return
		}
		st = &jobState{jobID: ev.JobID, status: queue.StatusQueued, sampler: logging.NewProgressSampler(0.25)}
		r.jobs[ev.JobID] = st
	}
	if ev.Owner != "" {
		st.owner = ev.Owner
	}

	emit := false
	switch ev.Kind {
	case KindQueued:
		st.status = queue.StatusQueued
		emit = true
	case KindDispatched:
		st.status = queue.StatusRunning
		emit = true
	case KindStage:
		if ev.Stage.Index() < st.stage.Index() {
			return
		}
		if ev.Stage != st.stage {
			st.stage = ev.Stage
			st.progress = queue.Progress{}
			st.lastFraction = 0
		}
		if st.status == queue.StatusQueued {
			st.status = queue.StatusRunning
		}
		emit = true
	case KindProgress:
		switch {
		case ev.Stage.Index() < st.stage.Index():
			return
		case ev.Stage != st.stage:
			st.stage = ev.Stage
			st.progress = queue.Progress{}
			st.lastFraction = 0
			emit = true
		}
		p := ev.Progress
		if p.Fraction < st.progress.Fraction {
			p.Fraction = st.progress.Fraction
		}
		st.progress = p
		ev.Progress = p
		if p.Fraction-st.lastFraction >= r.opts.MinDelta && p.Fraction > st.lastFraction {
			emit = true
		}
		if r.clock.Now().Sub(st.lastEmit) >= r.opts.MinInterval {
			emit = true
		}
		if st.sampler.ShouldLog(p.Fraction, string(st.stage)) {
			r.logger.Debug("job progress",
				logging.String(logging.FieldJobID, st.jobID),
				logging.String(logging.FieldStage, string(st.stage)),
				logging.Float64("fraction", p.Fraction),
			)
		}
	case KindCancelAck:
		if !st.status.IsTerminal() {
			st.status = queue.StatusCancelling
		}
		emit = true
	case KindTerminal:
		st.status = ev.Status
		emit = true
	default:
		return
	}
	if !emit {
		return
	}

	st.lastEmit = r.clock.Now()
	st.lastFraction = st.progress.Fraction
	ev.Stage = st.stage
	update := Update{Event: ev, View: buildView(st)}
	r.deliverLocked(update)
	r.delivered.Add(1)

	if ev.Kind == KindTerminal {
		delete(r.jobs, ev.JobID)
		for sub := range r.subs {
			if sub.jobID == ev.JobID {
				r.closeLocked(sub)
			}
		}
	}
}

func (r *Reporter) deliverLocked(update Update) {
	for sub := range r.subs {
		if sub.jobID != "" && sub.jobID != update.Event.JobID {
			continue
		}
		for !trySend(sub.ch, update) {
			select {
			case <-sub.ch:
				r.dropped.Add(1)
			default:
			}
		}
	}
}

func trySend(ch chan Update, update Update) bool {
	select {
	case ch <- update:
		return true
	default:
		return false
	}
}

func (r *Reporter) closeLocked(sub *Subscription) {
	if sub.closed {
		return
	}
	sub.closed = true
	delete(r.subs, sub)
	close(sub.ch)
}
