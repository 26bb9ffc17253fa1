// Package fetch implements the download stage: it copies a job's payload
// from a file://, http(s):// or s3:// reference into the job's work
// directory.
//
// Server errors, throttling and network failures are marked transient so the
// executor retries them; 4xx responses and missing inputs fail the job.
package fetch
