// Package queueaccess opens the configured job store and gives CLI commands
// one Access handle whether the daemon is reachable or not.
//
// With a running daemon every call goes over IPC. Without one, read-only
// calls are served straight from the store and mutations report
// ErrDaemonRequired.
package queueaccess
