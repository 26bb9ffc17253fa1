// Package daemon coordinates the long-running iencode process.
//
// It wires configuration, the job store and the workflow manager into a
// single lifecycle with flock-based locking to prevent multiple instances.
// The daemon owns the HTTP API (queue operations, SSE progress streams and
// Prometheus metrics) and the cron-driven retention sweep.
//
// Keep orchestration logic here: scheduling and stage execution live in
// workflow while the daemon focuses on startup, shutdown and transports.
package daemon
