// Package pipeline runs one bound job through the download, encode and
// upload stages.
//
// Collaborators are reached through the Fetcher, Transformer and Publisher
// interfaces and report progress through a bounded, drop-oldest channel that
// the executor drains while polling for cancellation. Job state lives with
// the caller: the executor only calls back into a Tracker, so ownership of
// the job record never leaves the workflow manager.
package pipeline
