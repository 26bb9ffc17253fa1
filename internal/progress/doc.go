// Package progress turns raw job events into a throttled three-stage view and
// fans it out to subscribers.
//
// Publishers never block. The inbox is bounded for progress samples: on
// overflow the oldest pending sample is dropped, while lifecycle events are
// always queued. Subscriber channels drop their oldest update. Stage changes, cancel acknowledgements
// and terminal events always pass the throttle; plain progress samples pass
// when the fraction advanced by at least MinDelta or MinInterval elapsed since
// the last update for that job.
package progress
