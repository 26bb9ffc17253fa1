// Package workerpool owns the fixed set of worker slots that bound how many
// jobs run at once.
//
// The pool pulls from the scheduler whenever a slot is free: TryDispatch runs
// after every enqueue and after every release, so a free slot never sits idle
// while work is queued. Each dispatched job runs on its own goroutine and its
// slot is released exactly once when the run callback returns.
//
// Lock order is pool, then scheduler, then whatever the bind callback takes.
// Callers must not hold their own locks while calling into the pool.
package workerpool
