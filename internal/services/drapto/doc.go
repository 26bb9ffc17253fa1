// Package drapto implements the encode stage on top of the Drapto Go
// library.
//
// A reporter adapter turns Drapto's stage and encoding callbacks into
// pipeline progress samples and keeps the reported output path and last
// error, so a failed encode surfaces Drapto's own message.
package drapto
