package scheduler

import (
	"container/list"
	"fmt"
	"sync"

	"iencode/internal/queue"
)

// Entry is the scheduler's view of a queued job.
type Entry struct {
	ID   string
	Lane queue.Lane
	Seq  int64
}

// Limits caps the depth of each lane. Zero means unbounded.
type Limits struct {
	Accelerator int
	Normal      int
}

func (l Limits) forLane(lane queue.Lane) int {
	if lane == queue.LaneAccelerator {
		return l.Accelerator
	}
	return l.Normal
}

// Scheduler is a two-lane FIFO priority queue keyed by job id.
type Scheduler struct {
	mu     sync.Mutex
	limits Limits
	lanes  map[queue.Lane]*list.List
	index  map[string]*list.Element
	closed bool
}

// New constructs an empty scheduler.
func New(limits Limits) *Scheduler {
	s := &Scheduler{
		limits: limits,
		lanes:  make(map[queue.Lane]*list.List, 2),
		index:  make(map[string]*list.Element),
	}
	for _, lane := range queue.Lanes() {
		s.lanes[lane] = list.New()
	}
	return s
}

// Enqueue appends the entry to the tail of its lane.
func (s *Scheduler) Enqueue(entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lane, ok := s.lanes[entry.Lane]
	if !ok {
		return fmt.Errorf("%w: unknown lane %q", queue.ErrInvalidPayload, entry.Lane)
	}
	if _, exists := s.index[entry.ID]; exists {
		return fmt.Errorf("%w: %s", queue.ErrDuplicateJob, entry.ID)
	}
	if limit := s.limits.forLane(entry.Lane); limit > 0 && lane.Len() >= limit {
		return fmt.Errorf("%w: %s lane holds %d jobs", queue.ErrQueueFull, entry.Lane, lane.Len())
	}
	s.index[entry.ID] = lane.PushBack(entry)
	return nil
}

// Restore inserts an entry during recovery, keeping lanes ordered by Seq and
// ignoring depth limits so nothing persisted is lost on restart.
func (s *Scheduler) Restore(entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lane, ok := s.lanes[entry.Lane]
	if !ok {
		return fmt.Errorf("%w: unknown lane %q", queue.ErrInvalidPayload, entry.Lane)
	}
	if _, exists := s.index[entry.ID]; exists {
		return fmt.Errorf("%w: %s", queue.ErrDuplicateJob, entry.ID)
	}
	for e := lane.Back(); e != nil; e = e.Prev() {
		if e.Value.(Entry).Seq <= entry.Seq {
			s.index[entry.ID] = lane.InsertAfter(entry, e)
			return nil
		}
	}
	s.index[entry.ID] = lane.PushFront(entry)
	return nil
}

// DequeueNext removes and returns the accelerator head, else the normal head.
// It is the only removal path used for dispatch.
func (s *Scheduler) DequeueNext() (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Entry{}, false
	}
	for _, laneName := range queue.Lanes() {
		lane := s.lanes[laneName]
		if front := lane.Front(); front != nil {
			entry := lane.Remove(front).(Entry)
			delete(s.index, entry.ID)
			return entry, true
		}
	}
	return Entry{}, false
}

// Reprioritize moves a queued job to the tail of the target lane. Moving a
// job into the lane it already occupies keeps its position. Depth limits only
// gate new enqueues.
func (s *Scheduler) Reprioritize(id string, target queue.Lane) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	elem, ok := s.index[id]
	if !ok {
		return fmt.Errorf("%w: %s is not queued", queue.ErrNotFound, id)
	}
	dest, ok := s.lanes[target]
	if !ok {
		return fmt.Errorf("%w: unknown lane %q", queue.ErrInvalidPayload, target)
	}
	entry := elem.Value.(Entry)
	if entry.Lane == target {
		return nil
	}
	s.lanes[entry.Lane].Remove(elem)
	entry.Lane = target
	s.index[id] = dest.PushBack(entry)
	return nil
}

// Remove drops a queued job.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	elem, ok := s.index[id]
	if !ok {
		return fmt.Errorf("%w: %s is not queued", queue.ErrNotFound, id)
	}
	s.lanes[elem.Value.(Entry).Lane].Remove(elem)
	delete(s.index, id)
	return nil
}

// Snapshot returns the queued entries in dispatch order without mutating.
func (s *Scheduler) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.index))
	for _, laneName := range queue.Lanes() {
		for e := s.lanes[laneName].Front(); e != nil; e = e.Next() {
			out = append(out, e.Value.(Entry))
		}
	}
	return out
}

// Depth returns the number of jobs waiting in a lane.
func (s *Scheduler) Depth(lane queue.Lane) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.lanes[lane]; ok {
		return l.Len()
	}
	return 0
}

// Drain stops dispatching and empties both lanes, returning what was queued
// in dispatch order.
func (s *Scheduler) Drain() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.index))
	for _, laneName := range queue.Lanes() {
		lane := s.lanes[laneName]
		for e := lane.Front(); e != nil; e = e.Next() {
			out = append(out, e.Value.(Entry))
		}
		lane.Init()
	}
	s.index = make(map[string]*list.Element)
	s.closed = true
	return out
}
