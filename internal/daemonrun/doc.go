// Package daemonrun hosts the daemon process: logging setup, store and
// collaborator construction, the IPC socket, and the wait for a stop signal.
package daemonrun
