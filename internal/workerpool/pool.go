package workerpool

import (
	"context"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"

	"iencode/internal/clock"
	"iencode/internal/logging"
	"iencode/internal/scheduler"
)

// Binding ties a job to a slot for the duration of one run.
type Binding struct {
	Slot    int
	JobID   string
	Entry   scheduler.Entry
	BoundAt time.Time
	gen     uint64
}

// BindFunc is called under the pool lock once a slot and a job are paired.
// Returning false leaves the slot free and dispatch moves on to the next job.
type BindFunc func(b Binding) bool

// RunFunc executes a bound job. The slot is released when it returns.
type RunFunc func(b Binding)

// Options wires the pool to its collaborators.
type Options struct {
	Size   int
	Bind   BindFunc
	Run    RunFunc
	Clock  clock.Clock
	Logger *slog.Logger
}

type slot struct {
	jobID string
	gen   uint64
	bound time.Time
}

// Pool is a fixed-size set of worker slots fed by a scheduler.
type Pool struct {
	mu     sync.Mutex
	slots  []slot
	sched  *scheduler.Scheduler
	bind   BindFunc
	run    RunFunc
	clock  clock.Clock
	logger *slog.Logger
	gen    uint64
	closed bool
	wg     sync.WaitGroup
}

// DetectSize returns override when positive, otherwise the number of logical
// CPU cores. Detection failures fall back to a single slot.
func DetectSize(override int) int {
	if override > 0 {
		return override
	}
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		n = runtime.NumCPU()
	}
	if n <= 0 {
		return 1
	}
	return n
}

// New constructs a pool with opts.Size slots (minimum 1).
func New(sched *scheduler.Scheduler, opts Options) *Pool {
	size := opts.Size
	if size < 1 {
		size = 1
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Bind == nil {
		opts.Bind = func(Binding) bool { return true }
	}
	if opts.Run == nil {
		opts.Run = func(Binding) {}
	}
	return &Pool{
		slots:  make([]slot, size),
		sched:  sched,
		bind:   opts.Bind,
		run:    opts.Run,
		clock:  opts.Clock,
		logger: logging.NewComponentLogger(opts.Logger, "workerpool"),
	}
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return len(p.slots)
}

// Busy returns how many slots are bound.
func (p *Pool) Busy() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	busy := 0
	for _, s := range p.slots {
		if s.jobID != "" {
			busy++
		}
	}
	return busy
}

// Bindings returns the current bindings ordered by bind time.
func (p *Pool) Bindings() []Binding {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Binding, 0, len(p.slots))
	for i, s := range p.slots {
		if s.jobID == "" {
			continue
		}
		out = append(out, Binding{Slot: i, JobID: s.jobID, BoundAt: s.bound, gen: s.gen})
	}
	slices.SortStableFunc(out, func(a, b Binding) int { return a.BoundAt.Compare(b.BoundAt) })
	return out
}

// TryDispatch binds free slots to queued jobs until either runs out and
// returns how many jobs were started.
func (p *Pool) TryDispatch() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	started := 0
	for !p.closed {
		idx := p.freeSlotLocked()
		if idx < 0 {
			break
		}
		entry, ok := p.sched.DequeueNext()
		if !ok {
			break
		}
		p.gen++
		b := Binding{Slot: idx, JobID: entry.ID, Entry: entry, BoundAt: p.clock.Now(), gen: p.gen}
		if !p.bind(b) {
			p.logger.Debug("bind declined; slot stays free",
				logging.String(logging.FieldJobID, entry.ID),
				logging.Int(logging.FieldSlot, idx),
			)
			continue
		}
		p.slots[idx] = slot{jobID: entry.ID, gen: b.gen, bound: b.BoundAt}
		started++
		p.wg.Add(1)
		go p.execute(b)
	}
	return started
}

func (p *Pool) execute(b Binding) {
	defer p.wg.Done()
	defer p.Release(b)
	p.run(b)
}

// Release frees the binding's slot and immediately dispatches the next job.
// Releasing the same binding twice is a no-op that returns false.
func (p *Pool) Release(b Binding) bool {
	p.mu.Lock()
	if b.Slot < 0 || b.Slot >= len(p.slots) {
		p.mu.Unlock()
		return false
	}
	current := p.slots[b.Slot]
	if current.jobID != b.JobID || current.gen != b.gen {
		p.mu.Unlock()
		return false
	}
	p.slots[b.Slot] = slot{}
	p.mu.Unlock()

	p.TryDispatch()
	return true
}

// Close stops further dispatching. Running jobs are unaffected.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

// Wait blocks until every dispatched run has returned or ctx ends.
func (p *Pool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) freeSlotLocked() int {
	for i, s := range p.slots {
		if s.jobID == "" {
			return i
		}
	}
	return -1
}
