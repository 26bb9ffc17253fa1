// Package daemonctl launches, checks and stops the daemon process on behalf
// of the CLI. It talks to the daemon over the IPC socket and falls back to
// the pid file when a graceful stop does not finish in time.
package daemonctl
