// Package queue defines the encode job model and its persistence.
//
// Job, Lane, Status and Stage are closed enumerations with parse helpers and
// a transition table that every status change goes through. The Store
// interface is implemented here by SQLiteStore (the default) and MemoryStore;
// the PostgreSQL and MongoDB backends live in pgqueue and mongoqueue.
//
// Persister sits in front of a Store. It serializes writes per job, drops
// stale snapshots, retries failures with backoff and escalates exhausted
// retries as operational alerts rather than job failures.
//
// The caller-facing sentinel errors (ErrNotFound, ErrQueueFull, ...) live here
// so the scheduler, controller and transports share one vocabulary.
package queue
