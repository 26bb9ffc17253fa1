// Package clock abstracts time for the scheduling engine.
//
// Production code uses Real. Tests use Fake, whose time only moves when the
// test calls Advance, so poll intervals, stage timeouts, retry backoff and the
// cancel grace window can be exercised deterministically.
package clock
