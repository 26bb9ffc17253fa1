// Package preflight provides readiness checks for the binaries and
// filesystem paths iencode depends on.
//
// These checks run in two contexts:
//   - The daemon runs RunAll at startup and logs every failed check so a
//     missing encoder shows up before the first job fails on it.
//   - The CLI "iencode daemon status" command renders the same results in
//     its System section, even when the daemon is stopped.
//
// Checks never fail the caller; they only report.
package preflight
