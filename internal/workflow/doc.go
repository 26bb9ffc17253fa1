// Package workflow is the queue controller: it owns the live job table and
// wires the priority scheduler, the worker pool, the pipeline executor and the
// progress reporter into one Manager.
//
// Requests (enqueue, cancel, reprioritize, list, describe) take the manager
// lock only long enough to mutate the job table and the scheduler; persistence,
// progress publication and notifications happen after the lock is released.
// The pool calls back into the manager while holding its own lock, so the
// manager never calls the pool while holding m.mu.
//
// Job snapshots carry a revision number and are written through
// queue.Persister, which drops stale revisions and retries failed writes. A
// write that still fails raises a persistence alert but never fails the job.
//
// On Start the manager recovers persisted work: queued jobs return to their
// lanes in Seq order, jobs found running are re-queued (or finalized cancelled
// when a cancel was already requested) and orphaned staging directories are
// removed. Stop closes the pool, interrupts running jobs without finalizing
// them and leaves everything persisted for the next start.
package workflow
