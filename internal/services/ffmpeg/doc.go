// Package ffmpeg implements the encode stage with the ffmpeg and ffprobe
// binaries.
//
// The input is probed for its duration and height, then encoded with libx265
// and AAC audio at the requested height (never above the source). Progress
// comes from ffmpeg's -progress key=value stream. The encoder runs in its own
// process group so cancellation terminates the whole tree; a non-zero exit is
// reported with the tail of stderr.
package ffmpeg
