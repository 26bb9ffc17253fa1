// Package logs lets the CLI follow what the daemon is doing: Tail reads the
// daemon log file with bounded memory and optional follow mode, and
// EventClient consumes the server-sent progress streams of the HTTP API.
//
// Callers pass a context; cancelling it ends follow mode and open streams
// without an error.
package logs
