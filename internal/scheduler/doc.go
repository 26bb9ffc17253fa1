// Package scheduler orders queued jobs in two priority lanes.
//
// The scheduler only holds job identifiers (plus lane and sequence number);
// the job records themselves live in the queue controller's table. Dequeue
// always drains the accelerator lane before the normal lane and is strictly
// FIFO within a lane. All operations are atomic with respect to each other.
package scheduler
