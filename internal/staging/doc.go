// Package staging manages per-job work directories under the configured
// staging root: creation before a pipeline run and sweeps for directories
// left behind by crashes or abandoned collaborators.
package staging
