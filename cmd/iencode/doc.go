// Package main hosts the iencode CLI entrypoint and command graph.
//
// The Cobra command tree runs the daemon in the foreground, launches and
// stops it in the background, and translates queue commands (enqueue,
// cancel, reprioritize, list, show) into IPC calls. List and show fall back
// to reading the job store directly when no daemon answers. Watch follows
// the HTTP API's server-sent progress stream, and logs tails the daemon log.
//
// Keep this package thin: behavior belongs in the internal packages and is
// surfaced here through commands and flags.
package main
