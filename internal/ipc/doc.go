// Package ipc exposes the daemon over JSON-RPC Unix sockets and ships the
// matching client used by the CLI.
//
// It owns socket lifecycle management and the request/response DTOs. Queue
// DTOs are aliases of the HTTP API types so both transports stay in step.
// Caller-facing errors travel as "<code>: <message>" strings and are rebuilt
// by the client so callers can still test them with errors.Is.
package ipc
