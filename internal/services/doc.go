// Package services defines shared utilities consumed by the pipeline stages
// and their external collaborators.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, stage names, lanes and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper. The executor classifies
//     stage errors through these markers to decide between retrying a
//     transient failure and failing the job.
//
// Subpackages hold the concrete collaborators: input fetchers, the ffmpeg and
// drapto transformers, output publishers and the S3 object store client.
package services
