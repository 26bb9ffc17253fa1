// Package mongoqueue implements queue.Store on a MongoDB collection.
//
// Each job is one document keyed by its id in the "jobs" collection, indexed
// by owner and by (status, seq) so owner listings and restart recovery stay
// cheap as history grows.
package mongoqueue
